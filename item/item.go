// Package item defines captured inbox items and their routing lifecycle.
package item

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/guchang/superinbox-sub005/errors"
)

// RoutingStatus tracks where an item is in its dispatch lifecycle.
type RoutingStatus string

const (
	RoutingPending    RoutingStatus = "pending"
	RoutingProcessing RoutingStatus = "processing"
	RoutingCompleted  RoutingStatus = "completed"
	RoutingSkipped    RoutingStatus = "skipped"
	RoutingFailed     RoutingStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid RoutingStatus.
func IsValidStatus(s string) bool {
	switch RoutingStatus(s) {
	case RoutingPending, RoutingProcessing, RoutingCompleted, RoutingSkipped, RoutingFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends a dispatch attempt.
func (s RoutingStatus) IsTerminal() bool {
	switch s {
	case RoutingCompleted, RoutingSkipped, RoutingFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the forward-only status machine:
// pending -> processing -> {completed, skipped, failed}.
// Terminal states may re-enter processing (explicit re-dispatch).
func (s RoutingStatus) CanTransitionTo(next RoutingStatus) bool {
	switch s {
	case RoutingPending:
		return next == RoutingProcessing || next == RoutingFailed
	case RoutingProcessing:
		return next.IsTerminal()
	case RoutingCompleted, RoutingSkipped, RoutingFailed:
		return next == RoutingProcessing
	default:
		return false
	}
}

// Item is one piece of captured, classified user content awaiting
// distribution. Classification (category + entities) happens upstream;
// the routing engine reads these fields but never re-derives them.
type Item struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"user_id"`
	Content       string                 `json:"content"`
	Category      string                 `json:"category"`
	Entities      map[string]interface{} `json:"entities,omitempty"`
	RoutingStatus RoutingStatus          `json:"routing_status"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// New creates a pending item with a fresh identifier.
func New(userID, content, category string, entities map[string]interface{}) (*Item, error) {
	if userID == "" {
		return nil, errors.New("userID cannot be empty")
	}
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}

	now := time.Now()
	return &Item{
		ID:            "itm_" + uuid.NewString(),
		UserID:        userID,
		Content:       content,
		Category:      category,
		Entities:      entities,
		RoutingStatus: RoutingPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Field resolves a named field against the item for rule evaluation.
// "category", "content", and "user_id" are intrinsic; any other name is
// looked up in the entity bag. The second return reports presence.
func (i *Item) Field(name string) (interface{}, bool) {
	switch name {
	case "category":
		return i.Category, true
	case "content":
		return i.Content, true
	case "user_id":
		return i.UserID, true
	}
	if i.Entities == nil {
		return nil, false
	}
	val, ok := i.Entities[name]
	return val, ok
}

// MarshalEntities serializes the entity bag for storage.
func (i *Item) MarshalEntities() (string, error) {
	if i.Entities == nil {
		return "{}", nil
	}
	data, err := json.Marshal(i.Entities)
	if err != nil {
		return "", errors.Wrap(err, "marshal entities")
	}
	return string(data), nil
}
