package adapter

import (
	"encoding/json"

	"github.com/guchang/superinbox-sub005/errors"
	"github.com/guchang/superinbox-sub005/routing"
)

// Config is the per-user, per-adapter-type destination configuration.
// Transport-specific fields are split between the protocol family
// (Command/Args/Env/Kind) and the REST family (BaseURL/Token/FieldMap).
type Config struct {
	UserID      string `json:"user_id"`
	AdapterType string `json:"adapter_type"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`

	// Adapter-level gating in addition to rule-level conditions.
	Conditions []routing.Condition `json:"conditions,omitempty"`

	// Protocol adapters: subprocess launch and auth injection.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Kind    string            `json:"kind,omitempty"` // declared server kind for auth-header injection

	// REST adapters: endpoint and field mapping.
	BaseURL      string            `json:"base_url,omitempty"`
	Token        string            `json:"token,omitempty"`
	FieldMap     map[string]string `json:"field_map,omitempty"`
	AllowPrivate bool              `json:"allow_private,omitempty"` // self-hosted destinations on a LAN

	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// IsProtocol reports whether the config describes a subprocess-backed
// destination rather than a direct REST one.
func (c *Config) IsProtocol() bool {
	return c.Command != ""
}

// UnmarshalSettings parses the settings JSON blob stored per adapter
// config row into the transport-specific fields.
func (c *Config) UnmarshalSettings(settings string) error {
	if settings == "" || settings == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(settings), c); err != nil {
		return errors.Wrap(err, "unmarshal adapter settings")
	}
	return nil
}

// MarshalSettings serializes the transport-specific fields for storage.
func (c *Config) MarshalSettings() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "marshal adapter settings")
	}
	return string(data), nil
}
