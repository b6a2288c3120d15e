package dispatch

import (
	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/item"
)

// EventType is one of the closed set of observer-facing routing events.
type EventType string

const (
	EventPending  EventType = "routing:pending"
	EventStart    EventType = "routing:start"
	EventSkipped  EventType = "routing:skipped"
	EventError    EventType = "routing:error"
	EventComplete EventType = "routing:complete"
)

// Event is one discrete progress observation for an item. A complete
// event carries the distributed-target list, the names of rules that
// produced at least one success, and separate success/failure counts.
type Event struct {
	Type   EventType          `json:"type"`
	ItemID string             `json:"item_id"`
	Status item.RoutingStatus `json:"status"`

	Targets        []string `json:"targets,omitempty"`
	SucceededRules []string `json:"succeeded_rules,omitempty"`
	SuccessCount   int      `json:"success_count"`
	FailureCount   int      `json:"failure_count"`
	SkippedBy      string   `json:"skipped_by,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// EventForItem maps persisted routing status plus the accumulated result
// list into one progress event. The mapping is pure and re-derivable
// from persisted state alone, so a reconnecting observer gets a correct
// snapshot instead of only live deltas.
//
// routing:start is emitted only for processing. A terminal item never
// renders as "still working", and an item that completed with zero
// successes still renders routing:complete, not an error.
func EventForItem(it *item.Item, results []*adapter.Result) Event {
	ev := Event{
		ItemID: it.ID,
		Status: it.RoutingStatus,
	}

	switch it.RoutingStatus {
	case item.RoutingPending:
		ev.Type = EventPending
	case item.RoutingProcessing:
		ev.Type = EventStart
	case item.RoutingSkipped:
		ev.Type = EventSkipped
		for _, r := range results {
			if r.TargetID == SkipTargetID {
				ev.SkippedBy = r.RuleName
			}
		}
	case item.RoutingFailed:
		ev.Type = EventError
		for _, r := range results {
			if r.Error != "" {
				ev.Error = r.Error
			}
		}
	case item.RoutingCompleted:
		ev.Type = EventComplete
		succeeded := make(map[string]bool)
		for _, r := range results {
			if r.TargetID == SkipTargetID {
				continue
			}
			ev.Targets = append(ev.Targets, r.AdapterType)
			if r.Status == adapter.StatusSuccess {
				ev.SuccessCount++
				if r.RuleName != "" && !succeeded[r.RuleName] {
					succeeded[r.RuleName] = true
					ev.SucceededRules = append(ev.SucceededRules, r.RuleName)
				}
			} else {
				ev.FailureCount++
			}
		}
	default:
		ev.Type = EventPending
	}

	return ev
}
