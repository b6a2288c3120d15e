// Package routing implements the rule engine that decides which external
// destinations an item should reach.
package routing

import (
	"time"

	"github.com/google/uuid"

	"github.com/guchang/superinbox-sub005/errors"
)

// Operator compares an item field against a rule condition value.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpContains  Operator = "contains"
	OpExists    Operator = "exists"
	OpGreater   Operator = "gt"
	OpLess      Operator = "lt"
)

// Condition is one field test. All of a rule's conditions must hold for
// the rule to match (logical AND).
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// ActionType discriminates the action variants.
type ActionType string

const (
	// ActionSkip suppresses all distribution for the item.
	ActionSkip ActionType = "skip_distribution"
	// ActionDispatch sends the item to one adapter type.
	ActionDispatch ActionType = "dispatch"
)

// Action is one step a matching rule contributes to the dispatch plan.
type Action struct {
	Type        ActionType             `json:"type"`
	AdapterType string                 `json:"adapter_type,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

// Rule is a prioritized condition-to-action mapping owned by a user.
// Rules are evaluated read-only and never mutated by the engine.
type Rule struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	Name       string      `json:"name"`
	Priority   int         `json:"priority"` // lower runs first
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	IsActive   bool        `json:"is_active"`
	IsSystem   bool        `json:"is_system"` // system rules cannot be deleted by the owner
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// NewRule creates an active user rule.
func NewRule(userID, name string, priority int, conditions []Condition, actions []Action) (*Rule, error) {
	if userID == "" {
		return nil, errors.New("userID cannot be empty")
	}
	if name == "" {
		return nil, errors.New("name cannot be empty")
	}
	if len(actions) == 0 {
		return nil, errors.New("rule needs at least one action")
	}
	for _, a := range actions {
		if a.Type == ActionDispatch && a.AdapterType == "" {
			return nil, errors.New("dispatch action needs an adapter type")
		}
	}

	now := time.Now()
	return &Rule{
		ID:         "rul_" + uuid.NewString(),
		UserID:     userID,
		Name:       name,
		Priority:   priority,
		Conditions: conditions,
		Actions:    actions,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
