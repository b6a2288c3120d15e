package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/errors"
	"github.com/guchang/superinbox-sub005/item"
	"github.com/guchang/superinbox-sub005/routing"
)

// fakeItemStore holds items in memory and validates transitions the way
// the real store does.
type fakeItemStore struct {
	mu    sync.Mutex
	items map[string]*item.Item
}

func newFakeItemStore(items ...*item.Item) *fakeItemStore {
	s := &fakeItemStore{items: make(map[string]*item.Item)}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

func (s *fakeItemStore) Get(id string) (*item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, errors.New("item not found")
	}
	copied := *it
	return &copied, nil
}

func (s *fakeItemStore) UpdateRoutingStatus(id string, from, to item.RoutingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return errors.New("item not found")
	}
	if !from.CanTransitionTo(to) {
		return errors.Newf("invalid transition %s -> %s", from, to)
	}
	if it.RoutingStatus != from {
		return errors.Newf("status moved underneath: %s != %s", it.RoutingStatus, from)
	}
	it.RoutingStatus = to
	return nil
}

func (s *fakeItemStore) status(id string) item.RoutingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].RoutingStatus
}

type fakeRuleStore struct {
	rules []*routing.Rule
	err   error
}

func (s *fakeRuleStore) ListActiveRules(userID string) ([]*routing.Rule, error) {
	return s.rules, s.err
}

type fakeResultSink struct {
	mu      sync.Mutex
	results []*adapter.Result
}

func (s *fakeResultSink) Append(r *adapter.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *fakeResultSink) ForItem(itemID string) ([]*adapter.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*adapter.Result
	for _, r := range s.results {
		if r.ItemID == itemID {
			out = append(out, r)
		}
	}
	return out, nil
}

// recordingAdapter counts distribute calls and can fail, delay, or panic.
type recordingAdapter struct {
	adapterType string
	fail        bool
	panics      bool
	delay       time.Duration

	mu    sync.Mutex
	calls int
}

func (a *recordingAdapter) Type() string                                      { return a.adapterType }
func (a *recordingAdapter) Validate(cfg *adapter.Config) error                { return nil }
func (a *recordingAdapter) Initialize(ctx context.Context, cfg *adapter.Config) error { return nil }
func (a *recordingAdapter) HealthCheck(ctx context.Context) bool              { return true }
func (a *recordingAdapter) Close() error                                      { return nil }

func (a *recordingAdapter) Distribute(ctx context.Context, it *item.Item) *adapter.Result {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.panics {
		panic("adapter exploded")
	}
	if a.fail {
		return adapter.Failed(it.ID, a.adapterType, "dest", "destination rejected item")
	}
	return adapter.Success(it.ID, a.adapterType, "dest", "ext-"+a.adapterType, "")
}

func (a *recordingAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newRule(t *testing.T, name string, priority int, conditions []routing.Condition, actions []routing.Action) *routing.Rule {
	t.Helper()
	r, err := routing.NewRule("usr_test", name, priority, conditions, actions)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	return r
}

func dispatchRule(t *testing.T, name string, priority int, adapterType string) *routing.Rule {
	return newRule(t, name, priority,
		[]routing.Condition{{Field: "category", Operator: routing.OpEquals, Value: "todo"}},
		[]routing.Action{{Type: routing.ActionDispatch, AdapterType: adapterType}},
	)
}

func pendingItem(t *testing.T) *item.Item {
	t.Helper()
	it, err := item.New("usr_test", "Buy milk", "todo", nil)
	if err != nil {
		t.Fatalf("item.New: %v", err)
	}
	return it
}

func TestDistributeItem(t *testing.T) {
	t.Run("every action yields exactly one result in action order", func(t *testing.T) {
		it := pendingItem(t)
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		// First adapter is slow so completion order inverts submission order.
		slow := &recordingAdapter{adapterType: "notion", delay: 50 * time.Millisecond}
		fast := &recordingAdapter{adapterType: "todoist"}
		reg := adapter.NewRegistry()
		reg.Register(slow)
		reg.Register(fast)

		rules := &fakeRuleStore{rules: []*routing.Rule{
			dispatchRule(t, "to-notion", 1, "notion"),
			dispatchRule(t, "to-todoist", 2, "todoist"),
		}}

		o := NewOrchestrator(items, rules, sink, reg, nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}

		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		if results[0].AdapterType != "notion" || results[1].AdapterType != "todoist" {
			t.Errorf("results out of action order: %s, %s", results[0].AdapterType, results[1].AdapterType)
		}
		if results[0].RuleName != "to-notion" {
			t.Errorf("RuleName = %q", results[0].RuleName)
		}
		if got := items.status(it.ID); got != item.RoutingCompleted {
			t.Errorf("status = %s, want completed", got)
		}
		if len(sink.results) != 2 {
			t.Errorf("persisted %d results, want 2", len(sink.results))
		}
	})

	t.Run("registry miss fails its action without touching siblings", func(t *testing.T) {
		it := pendingItem(t)
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		healthy := &recordingAdapter{adapterType: "todoist"}
		reg := adapter.NewRegistry()
		reg.Register(healthy)

		rules := &fakeRuleStore{rules: []*routing.Rule{
			dispatchRule(t, "to-notion", 1, "notion"), // unregistered
			dispatchRule(t, "to-todoist", 2, "todoist"),
		}}

		o := NewOrchestrator(items, rules, sink, reg, nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}

		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		if results[0].Status != adapter.StatusFailed {
			t.Errorf("missing adapter result status = %s", results[0].Status)
		}
		if results[0].Error == "" {
			t.Error("missing adapter result has no error")
		}
		if results[1].Status != adapter.StatusSuccess {
			t.Errorf("healthy adapter result status = %s", results[1].Status)
		}
		if healthy.callCount() != 1 {
			t.Errorf("healthy adapter called %d times", healthy.callCount())
		}
		if got := items.status(it.ID); got != item.RoutingCompleted {
			t.Errorf("status = %s, want completed (batch finished)", got)
		}
	})

	t.Run("skip rule yields single synthetic result and zero adapter calls", func(t *testing.T) {
		it := pendingItem(t)
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		a := &recordingAdapter{adapterType: "notion"}
		reg := adapter.NewRegistry()
		reg.Register(a)

		rules := &fakeRuleStore{rules: []*routing.Rule{
			newRule(t, "mute-todos", 100,
				[]routing.Condition{{Field: "category", Operator: routing.OpEquals, Value: "todo"}},
				[]routing.Action{{Type: routing.ActionSkip}},
			),
			dispatchRule(t, "to-notion", 200, "notion"),
		}}

		o := NewOrchestrator(items, rules, sink, reg, nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}

		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		if results[0].Status != adapter.StatusSuccess || results[0].TargetID != SkipTargetID {
			t.Errorf("synthetic skip result = %+v", results[0])
		}
		if results[0].RuleName != "mute-todos" {
			t.Errorf("RuleName = %q", results[0].RuleName)
		}
		if a.callCount() != 0 {
			t.Errorf("adapter called %d times, want 0", a.callCount())
		}
		if got := items.status(it.ID); got != item.RoutingSkipped {
			t.Errorf("status = %s, want skipped", got)
		}
	})

	t.Run("zero matched rules completes with zero results", func(t *testing.T) {
		it := pendingItem(t)
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		o := NewOrchestrator(items, &fakeRuleStore{}, sink, adapter.NewRegistry(), nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}

		if len(results) != 0 {
			t.Fatalf("got %d results, want 0", len(results))
		}
		if got := items.status(it.ID); got != item.RoutingCompleted {
			t.Errorf("status = %s, want completed", got)
		}
	})

	t.Run("adapter type filter restricts execution", func(t *testing.T) {
		it := pendingItem(t)
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		notion := &recordingAdapter{adapterType: "notion"}
		todoist := &recordingAdapter{adapterType: "todoist"}
		reg := adapter.NewRegistry()
		reg.Register(notion)
		reg.Register(todoist)

		rules := &fakeRuleStore{rules: []*routing.Rule{
			dispatchRule(t, "to-notion", 1, "notion"),
			dispatchRule(t, "to-todoist", 2, "todoist"),
		}}

		o := NewOrchestrator(items, rules, sink, reg, nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{AdapterTypes: []string{"todoist"}})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}

		if len(results) != 1 || results[0].AdapterType != "todoist" {
			t.Fatalf("results = %+v", results)
		}
		if notion.callCount() != 0 {
			t.Error("filtered-out adapter was called")
		}
	})

	t.Run("adapter panic becomes failed result for that action alone", func(t *testing.T) {
		it := pendingItem(t)
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		bad := &recordingAdapter{adapterType: "notion", panics: true}
		good := &recordingAdapter{adapterType: "todoist"}
		reg := adapter.NewRegistry()
		reg.Register(bad)
		reg.Register(good)

		rules := &fakeRuleStore{rules: []*routing.Rule{
			dispatchRule(t, "to-notion", 1, "notion"),
			dispatchRule(t, "to-todoist", 2, "todoist"),
		}}

		o := NewOrchestrator(items, rules, sink, reg, nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}

		if results[0].Status != adapter.StatusFailed {
			t.Errorf("panicking adapter result = %+v", results[0])
		}
		if results[1].Status != adapter.StatusSuccess {
			t.Errorf("sibling result = %+v", results[1])
		}
	})

	t.Run("unknown item is a hard error", func(t *testing.T) {
		o := NewOrchestrator(newFakeItemStore(), &fakeRuleStore{}, &fakeResultSink{}, adapter.NewRegistry(), nil)
		_, err := o.DistributeItem(context.Background(), "itm_missing", Options{})
		if err == nil {
			t.Fatal("expected error for unknown item")
		}
	})

	t.Run("re-dispatch from terminal state", func(t *testing.T) {
		it := pendingItem(t)
		it.RoutingStatus = item.RoutingCompleted
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		a := &recordingAdapter{adapterType: "notion"}
		reg := adapter.NewRegistry()
		reg.Register(a)

		rules := &fakeRuleStore{rules: []*routing.Rule{dispatchRule(t, "to-notion", 1, "notion")}}

		o := NewOrchestrator(items, rules, sink, reg, nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}
		if len(results) != 1 || a.callCount() != 1 {
			t.Errorf("redispatch results = %d, calls = %d", len(results), a.callCount())
		}
	})
}

func TestDestinationConditionGating(t *testing.T) {
	t.Run("failing destination conditions drop the action", func(t *testing.T) {
		it := pendingItem(t) // category "todo"
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		gated := &recordingAdapter{adapterType: "notion"}
		open := &recordingAdapter{adapterType: "todoist"}
		reg := adapter.NewRegistry()
		reg.RegisterWithConditions(gated, []routing.Condition{
			{Field: "category", Operator: routing.OpEquals, Value: "note"},
		})
		reg.Register(open)

		rules := &fakeRuleStore{rules: []*routing.Rule{
			dispatchRule(t, "to-notion", 1, "notion"),
			dispatchRule(t, "to-todoist", 2, "todoist"),
		}}

		o := NewOrchestrator(items, rules, sink, reg, nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}

		if len(results) != 1 || results[0].AdapterType != "todoist" {
			t.Fatalf("results = %+v, want only todoist", results)
		}
		if gated.callCount() != 0 {
			t.Errorf("gated adapter called %d times, want 0", gated.callCount())
		}
		if got := items.status(it.ID); got != item.RoutingCompleted {
			t.Errorf("status = %s, want completed", got)
		}
	})

	t.Run("matching destination conditions dispatch normally", func(t *testing.T) {
		it := pendingItem(t)
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		a := &recordingAdapter{adapterType: "notion"}
		reg := adapter.NewRegistry()
		reg.RegisterWithConditions(a, []routing.Condition{
			{Field: "category", Operator: routing.OpEquals, Value: "todo"},
		})

		rules := &fakeRuleStore{rules: []*routing.Rule{dispatchRule(t, "to-notion", 1, "notion")}}

		o := NewOrchestrator(items, rules, sink, reg, nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}
		if len(results) != 1 || a.callCount() != 1 {
			t.Errorf("results = %d, calls = %d, want 1/1", len(results), a.callCount())
		}
	})

	t.Run("unregistered destination still fails in fan-out", func(t *testing.T) {
		it := pendingItem(t)
		items := newFakeItemStore(it)
		sink := &fakeResultSink{}

		rules := &fakeRuleStore{rules: []*routing.Rule{dispatchRule(t, "to-notion", 1, "notion")}}

		o := NewOrchestrator(items, rules, sink, adapter.NewRegistry(), nil)
		results, err := o.DistributeItem(context.Background(), it.ID, Options{})
		if err != nil {
			t.Fatalf("DistributeItem: %v", err)
		}
		if len(results) != 1 || results[0].Status != adapter.StatusFailed {
			t.Fatalf("results = %+v, want one failed result", results)
		}
	})
}

func TestSingleFlight(t *testing.T) {
	it := pendingItem(t)
	items := newFakeItemStore(it)
	sink := &fakeResultSink{}

	slow := &recordingAdapter{adapterType: "notion", delay: 100 * time.Millisecond}
	reg := adapter.NewRegistry()
	reg.Register(slow)

	rules := &fakeRuleStore{rules: []*routing.Rule{dispatchRule(t, "to-notion", 1, "notion")}}
	o := NewOrchestrator(items, rules, sink, reg, nil)

	started := make(chan struct{})
	var firstErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		_, firstErr = o.DistributeItem(context.Background(), it.ID, Options{})
	}()

	<-started
	time.Sleep(20 * time.Millisecond) // first dispatch is inside the slow adapter now

	_, secondErr := o.DistributeItem(context.Background(), it.ID, Options{})
	if !errors.Is(secondErr, ErrDispatchInFlight) {
		t.Errorf("concurrent dispatch error = %v, want ErrDispatchInFlight", secondErr)
	}

	wg.Wait()
	if firstErr != nil {
		t.Errorf("first dispatch failed: %v", firstErr)
	}
	if slow.callCount() != 1 {
		t.Errorf("adapter called %d times, want 1", slow.callCount())
	}
}

func TestProgressSubscription(t *testing.T) {
	it := pendingItem(t)
	items := newFakeItemStore(it)
	sink := &fakeResultSink{}

	a := &recordingAdapter{adapterType: "notion"}
	reg := adapter.NewRegistry()
	reg.Register(a)

	rules := &fakeRuleStore{rules: []*routing.Rule{dispatchRule(t, "to-notion", 1, "notion")}}
	o := NewOrchestrator(items, rules, sink, reg, nil)

	ch := o.Subscribe()
	defer o.Unsubscribe(ch)

	if _, err := o.DistributeItem(context.Background(), it.ID, Options{}); err != nil {
		t.Fatalf("DistributeItem: %v", err)
	}

	var events []Event
	for len(events) < 2 {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(events))
		}
	}

	if events[0].Type != EventStart {
		t.Errorf("first event = %s, want %s", events[0].Type, EventStart)
	}
	if events[1].Type != EventComplete {
		t.Errorf("second event = %s, want %s", events[1].Type, EventComplete)
	}
	if events[1].SuccessCount != 1 || events[1].FailureCount != 0 {
		t.Errorf("complete counts = %d/%d", events[1].SuccessCount, events[1].FailureCount)
	}
}

func TestSnapshot(t *testing.T) {
	it := pendingItem(t)
	items := newFakeItemStore(it)
	sink := &fakeResultSink{}

	a := &recordingAdapter{adapterType: "notion", fail: true}
	reg := adapter.NewRegistry()
	reg.Register(a)

	rules := &fakeRuleStore{rules: []*routing.Rule{dispatchRule(t, "to-notion", 1, "notion")}}
	o := NewOrchestrator(items, rules, sink, reg, nil)

	ev, err := o.Snapshot(it.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if ev.Type != EventPending {
		t.Errorf("pre-dispatch snapshot = %s, want %s", ev.Type, EventPending)
	}

	if _, err := o.DistributeItem(context.Background(), it.ID, Options{}); err != nil {
		t.Fatalf("DistributeItem: %v", err)
	}

	ev, err = o.Snapshot(it.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if ev.Type != EventComplete {
		t.Errorf("post-dispatch snapshot = %s, want %s (all-failed still completes)", ev.Type, EventComplete)
	}
	if ev.SuccessCount != 0 || ev.FailureCount != 1 {
		t.Errorf("counts = %d/%d, want 0/1", ev.SuccessCount, ev.FailureCount)
	}
}
