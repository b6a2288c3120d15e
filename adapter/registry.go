package adapter

import (
	"fmt"
	"sync"

	"github.com/guchang/superinbox-sub005/routing"
)

// NotFoundError reports a registry lookup miss. It is scoped to one
// dispatch action and never fatal to a batch.
type NotFoundError struct {
	AdapterType string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("adapter not found: %s", e.AdapterType)
}

// Registry holds one adapter instance per adapter type. It is built
// explicitly at startup and passed to the orchestrator; lookups are
// read-mostly and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	gates    map[string][]routing.Condition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		gates:    make(map[string][]routing.Condition),
	}
}

// Register adds an adapter under its type.
// Panics if the type is already registered.
func (r *Registry) Register(a Adapter) {
	r.RegisterWithConditions(a, nil)
}

// RegisterWithConditions adds an adapter together with its configured
// destination-level conditions. Items failing a condition are gated away
// from this destination even when a rule names it.
// Panics if the type is already registered.
func (r *Registry) RegisterWithConditions(a Adapter, conds []routing.Condition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	adapterType := a.Type()
	if _, exists := r.adapters[adapterType]; exists {
		panic(fmt.Sprintf("adapter already registered for type: %s", adapterType))
	}
	r.adapters[adapterType] = a
	if len(conds) > 0 {
		r.gates[adapterType] = conds
	}
}

// GateConditions returns the destination-level conditions for a type.
// Nil when the destination is unconditional or unknown.
func (r *Registry) GateConditions(adapterType string) []routing.Condition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gates[adapterType]
}

// Lookup resolves an adapter by type, or returns a NotFoundError.
func (r *Registry) Lookup(adapterType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[adapterType]
	if !ok {
		return nil, &NotFoundError{AdapterType: adapterType}
	}
	return a, nil
}

// Has checks if an adapter is registered for a type.
func (r *Registry) Has(adapterType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.adapters[adapterType]
	return exists
}

// Types returns all registered adapter types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	return types
}

// Close tears down every registered adapter. Used at shutdown so
// protocol adapters can kill their subprocess sessions.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
