// Package dispatch runs the distribution pipeline for one item: rule
// evaluation, concurrent adapter fan-out, deterministic result
// reassembly, and persistence of both results and the item's routing
// status.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/errors"
	"github.com/guchang/superinbox-sub005/item"
	"github.com/guchang/superinbox-sub005/routing"
)

// SkipTargetID marks the synthetic result recorded when a rule skipped
// distribution for an item.
const SkipTargetID = "skip_distribution"

// subscriberBufferSize keeps slow progress observers from stalling
// dispatch; events beyond the buffer are dropped for that observer.
const subscriberBufferSize = 100

// ErrDispatchInFlight is returned when a dispatch is requested for an
// item that already has one running. Concurrent manual redispatch and
// the automatic post-capture trigger would otherwise interleave and
// duplicate result rows.
var ErrDispatchInFlight = errors.New("dispatch already in flight for item")

// ItemStore is the slice of item persistence the orchestrator needs.
type ItemStore interface {
	Get(id string) (*item.Item, error)
	UpdateRoutingStatus(id string, from, to item.RoutingStatus) error
}

// RuleStore supplies the caller's active rule set.
type RuleStore interface {
	ListActiveRules(userID string) ([]*routing.Rule, error)
}

// ResultSink persists and replays distribution results.
type ResultSink interface {
	Append(r *adapter.Result) error
	ForItem(itemID string) ([]*adapter.Result, error)
}

// Options tunes a single dispatch.
type Options struct {
	// AdapterTypes restricts which resolved actions execute. Used for
	// manual redispatch of a subset. Empty means all.
	AdapterTypes []string
}

// Orchestrator drives the item state machine
// pending -> processing -> {completed, skipped, failed} and fans out to
// adapters. Re-dispatch is permitted from any terminal state.
type Orchestrator struct {
	items    ItemStore
	rules    RuleStore
	results  ResultSink
	registry *adapter.Registry
	log      *zap.SugaredLogger

	mu          sync.Mutex
	inFlight    map[string]struct{}
	subscribers []chan Event
}

// NewOrchestrator wires the orchestrator to its collaborators. The
// registry is constructed explicitly at startup and injected; there is
// no ambient global state.
func NewOrchestrator(items ItemStore, rules RuleStore, results ResultSink, registry *adapter.Registry, logger *zap.SugaredLogger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		items:    items,
		rules:    rules,
		results:  results,
		registry: registry,
		log:      logger,
		inFlight: make(map[string]struct{}),
	}
}

// DistributeItem runs one dispatch for the item: evaluate rules, invoke
// the selected adapters, persist every result, and move the item to a
// terminal status. The returned slice preserves rule/action order
// regardless of adapter completion order.
//
// A batch always returns a result list, possibly all-failed, rather
// than erroring; only a structural fault (unknown item id, broken
// bookkeeping) surfaces as a hard error.
func (o *Orchestrator) DistributeItem(ctx context.Context, itemID string, opts Options) ([]*adapter.Result, error) {
	if err := o.acquire(itemID); err != nil {
		return nil, err
	}
	defer o.release(itemID)

	it, err := o.items.Get(itemID)
	if err != nil {
		return nil, errors.Wrap(err, "load item for dispatch")
	}

	// Processing must be observable before any adapter call begins, so
	// progress observers never see a silent jump to a terminal state.
	if err := o.transition(it, item.RoutingProcessing); err != nil {
		return nil, err
	}
	o.publish(EventForItem(it, nil))

	activeRules, err := o.rules.ListActiveRules(it.UserID)
	if err != nil {
		o.fail(it, err)
		return nil, errors.Wrap(err, "list active rules")
	}

	outcome := routing.Evaluate(it, activeRules)

	if outcome.Skipped {
		return o.finishSkipped(it, outcome)
	}

	actions := filterActions(outcome.Actions, opts.AdapterTypes)
	actions = o.gateActions(it, actions)
	results := o.fanOut(ctx, it, actions)

	for _, r := range results {
		if err := o.results.Append(r); err != nil {
			o.fail(it, err)
			return nil, errors.Wrap(err, "persist results")
		}
	}

	// Completed means the sequence finished, not that every sub-dispatch
	// succeeded. Zero matched rules also completes, with zero results.
	if err := o.transition(it, item.RoutingCompleted); err != nil {
		return nil, err
	}
	o.publish(EventForItem(it, results))

	o.log.Infow("Dispatch complete",
		"item_id", it.ID,
		"actions", len(actions),
		"results", len(results),
	)
	return results, nil
}

// Snapshot derives the current progress event for an item from persisted
// state alone. Used for late-joining observers.
func (o *Orchestrator) Snapshot(itemID string) (Event, error) {
	it, err := o.items.Get(itemID)
	if err != nil {
		return Event{}, err
	}
	results, err := o.results.ForItem(itemID)
	if err != nil {
		return Event{}, err
	}
	return EventForItem(it, results), nil
}

// fanOut invokes one adapter per action. Actions run concurrently, but
// the returned slice is indexed by action position so reporting stays
// deterministic. Every action yields exactly one result: a registry miss
// or an adapter panic becomes a failed result for that action alone and
// never aborts its siblings.
func (o *Orchestrator) fanOut(ctx context.Context, it *item.Item, actions []routing.ResolvedAction) []*adapter.Result {
	results := make([]*adapter.Result, len(actions))

	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action routing.ResolvedAction) {
			defer wg.Done()
			results[i] = o.runAction(ctx, it, action)
		}(i, action)
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) runAction(ctx context.Context, it *item.Item, action routing.ResolvedAction) (res *adapter.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorw("Adapter panicked during dispatch",
				"adapter", action.AdapterType,
				"item_id", it.ID,
				"panic", r,
			)
			res = adapter.Failed(it.ID, action.AdapterType, "", fmt.Sprintf("adapter panic: %v", r))
			res.RuleID = action.RuleID
			res.RuleName = action.RuleName
		}
	}()

	a, err := o.registry.Lookup(action.AdapterType)
	if err != nil {
		res = adapter.Failed(it.ID, action.AdapterType, "", err.Error())
		res.RuleID = action.RuleID
		res.RuleName = action.RuleName
		return res
	}

	res = a.Distribute(ctx, it)
	res.RuleID = action.RuleID
	res.RuleName = action.RuleName
	return res
}

// finishSkipped records the single synthetic skip result and moves the
// item to skipped. No adapter is called.
func (o *Orchestrator) finishSkipped(it *item.Item, outcome routing.Outcome) ([]*adapter.Result, error) {
	skip := adapter.Success(it.ID, "none", SkipTargetID, "", "")
	skip.RuleID = outcome.SkippedByID
	skip.RuleName = outcome.SkippedBy

	if err := o.results.Append(skip); err != nil {
		o.fail(it, err)
		return nil, errors.Wrap(err, "persist skip result")
	}
	if err := o.transition(it, item.RoutingSkipped); err != nil {
		return nil, err
	}

	results := []*adapter.Result{skip}
	o.publish(EventForItem(it, results))

	o.log.Infow("Dispatch skipped by rule", "item_id", it.ID, "rule", outcome.SkippedBy)
	return results, nil
}

// fail moves the item to failed after a bookkeeping fault. The original
// error propagates to the caller; this records the terminal state.
func (o *Orchestrator) fail(it *item.Item, cause error) {
	if err := o.transition(it, item.RoutingFailed); err != nil {
		o.log.Errorw("Could not record failed status", "item_id", it.ID, "error", err)
		return
	}
	o.publish(Event{
		Type:   EventError,
		ItemID: it.ID,
		Status: item.RoutingFailed,
		Error:  cause.Error(),
	})
}

// transition persists a status change and updates the in-memory item so
// subsequent event derivations see the new state.
func (o *Orchestrator) transition(it *item.Item, to item.RoutingStatus) error {
	if err := o.items.UpdateRoutingStatus(it.ID, it.RoutingStatus, to); err != nil {
		return errors.Wrapf(err, "transition %s -> %s", it.RoutingStatus, to)
	}
	it.RoutingStatus = to
	return nil
}

func (o *Orchestrator) acquire(itemID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[itemID]; busy {
		return errors.Wrapf(ErrDispatchInFlight, "%s", itemID)
	}
	o.inFlight[itemID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(itemID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, itemID)
}

// Subscribe returns a buffered channel receiving progress events.
// The caller must Unsubscribe when done; the channel is not closed by
// the orchestrator.
func (o *Orchestrator) Subscribe() chan Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	o.subscribers = append(o.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed,
// preventing double-close panics in racing consumers.
func (o *Orchestrator) Unsubscribe(ch chan Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, sub := range o.subscribers {
		if sub == ch {
			o.subscribers = append(o.subscribers[:i], o.subscribers[i+1:]...)
			return
		}
	}
}

// publish delivers an event to every subscriber without blocking on a
// full buffer.
func (o *Orchestrator) publish(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, ch := range o.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// gateActions applies destination-level conditions on top of rule-level
// matching: an action whose destination declares conditions the item
// fails is dropped before fan-out, like a rule that never matched. An
// unregistered destination passes through and fails in runAction.
func (o *Orchestrator) gateActions(it *item.Item, actions []routing.ResolvedAction) []routing.ResolvedAction {
	gated := make([]routing.ResolvedAction, 0, len(actions))
	for _, action := range actions {
		if !routing.MatchesConditions(it, o.registry.GateConditions(action.AdapterType)) {
			o.log.Debugw("Destination conditions exclude item",
				"adapter", action.AdapterType,
				"item_id", it.ID,
			)
			continue
		}
		gated = append(gated, action)
	}
	return gated
}

// filterActions keeps only actions whose adapter type is in the allow
// list. An empty list keeps everything.
func filterActions(actions []routing.ResolvedAction, adapterTypes []string) []routing.ResolvedAction {
	if len(adapterTypes) == 0 {
		return actions
	}
	allowed := make(map[string]bool, len(adapterTypes))
	for _, t := range adapterTypes {
		allowed[t] = true
	}
	filtered := make([]routing.ResolvedAction, 0, len(actions))
	for _, action := range actions {
		if allowed[action.AdapterType] {
			filtered = append(filtered, action)
		}
	}
	return filtered
}
