// Package adapter defines the destination driver contract and the registry
// that resolves adapter types at dispatch time.
package adapter

import (
	"context"

	"github.com/guchang/superinbox-sub005/item"
)

// Adapter drives one external destination. Implementations fall into two
// transport families: direct-call adapters that make one outbound HTTP
// request per dispatch, and protocol adapters that own a tool server
// subprocess session.
//
// Distribute never lets a fault escape: every transport or tool-level
// error is converted into a failed Result so one misbehaving adapter
// cannot abort dispatch to its siblings.
type Adapter interface {
	// Type returns the adapter type key used in rules and configuration.
	Type() string

	// Validate checks a configuration without side effects.
	Validate(cfg *Config) error

	// Initialize sets up the transport. Idempotent.
	Initialize(ctx context.Context, cfg *Config) error

	// Distribute sends one item to the destination and reports the
	// outcome as a Result, success or failed, never an error.
	Distribute(ctx context.Context, it *item.Item) *Result

	// HealthCheck reports whether the destination is currently reachable.
	HealthCheck(ctx context.Context) bool

	// Close tears down the transport. For protocol adapters this kills
	// the owned subprocess session.
	Close() error
}
