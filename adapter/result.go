package adapter

import (
	"time"

	"github.com/google/uuid"
)

// ResultStatus classifies one dispatch attempt.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailed  ResultStatus = "failed"
)

// Result records one dispatch attempt of one item to one target.
// Results are append-only: never mutated, only accumulated, so the full
// history for an item is the ordered list of all past attempts.
type Result struct {
	ID          string       `json:"id"`
	ItemID      string       `json:"item_id"`
	TargetID    string       `json:"target_id"`
	AdapterType string       `json:"adapter_type"`
	RuleID      string       `json:"rule_id,omitempty"`
	RuleName    string       `json:"rule_name,omitempty"`
	Status      ResultStatus `json:"status"`
	ExternalID  string       `json:"external_id,omitempty"`
	ExternalURL string       `json:"external_url,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Success builds a successful result.
func Success(itemID, adapterType, targetID, externalID, externalURL string) *Result {
	return &Result{
		ID:          "dst_" + uuid.NewString(),
		ItemID:      itemID,
		TargetID:    targetID,
		AdapterType: adapterType,
		Status:      StatusSuccess,
		ExternalID:  externalID,
		ExternalURL: externalURL,
		CreatedAt:   time.Now(),
	}
}

// Failed builds a failed result carrying a human-readable error string.
func Failed(itemID, adapterType, targetID, errMsg string) *Result {
	return &Result{
		ID:          "dst_" + uuid.NewString(),
		ItemID:      itemID,
		TargetID:    targetID,
		AdapterType: adapterType,
		Status:      StatusFailed,
		Error:       errMsg,
		CreatedAt:   time.Now(),
	}
}
