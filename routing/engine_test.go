package routing

import (
	"reflect"
	"testing"
	"time"

	"github.com/guchang/superinbox-sub005/item"
)

func testItem(category string, entities map[string]interface{}) *item.Item {
	return &item.Item{
		ID:       "itm_1",
		UserID:   "user-1",
		Content:  "remember to pay rent",
		Category: category,
		Entities: entities,
	}
}

func dispatchRule(name string, priority int, createdAt time.Time, adapterTypes ...string) *Rule {
	actions := make([]Action, 0, len(adapterTypes))
	for _, at := range adapterTypes {
		actions = append(actions, Action{Type: ActionDispatch, AdapterType: at})
	}
	return &Rule{
		ID:        "rul_" + name,
		UserID:    "user-1",
		Name:      name,
		Priority:  priority,
		Actions:   actions,
		IsActive:  true,
		CreatedAt: createdAt,
	}
}

func TestMatchesConditions(t *testing.T) {
	it := testItem("task", map[string]interface{}{"project": "home"})

	cases := []struct {
		name  string
		conds []Condition
		want  bool
	}{
		{"empty list matches", nil, true},
		{"single condition holds", []Condition{
			{Field: "category", Operator: OpEquals, Value: "task"},
		}, true},
		{"every condition must hold", []Condition{
			{Field: "category", Operator: OpEquals, Value: "task"},
			{Field: "project", Operator: OpEquals, Value: "work"},
		}, false},
		{"missing field is non-matching", []Condition{
			{Field: "assignee", Operator: OpExists},
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchesConditions(it, tc.conds); got != tc.want {
				t.Errorf("MatchesConditions = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("priority ascending", func(t *testing.T) {
		rules := []*Rule{
			dispatchRule("later", 200, base, "notion"),
			dispatchRule("first", 10, base, "todoist"),
		}
		out := Evaluate(testItem("todo", nil), rules)
		if len(out.Actions) != 2 {
			t.Fatalf("expected 2 actions, got %d", len(out.Actions))
		}
		if out.Actions[0].AdapterType != "todoist" || out.Actions[1].AdapterType != "notion" {
			t.Errorf("wrong order: %+v", out.Actions)
		}
	})

	t.Run("priority ties broken by creation order", func(t *testing.T) {
		rules := []*Rule{
			dispatchRule("younger", 100, base.Add(time.Hour), "notion"),
			dispatchRule("older", 100, base, "todoist"),
		}
		out := Evaluate(testItem("todo", nil), rules)
		if out.Actions[0].RuleName != "older" {
			t.Errorf("expected older rule first, got %s", out.Actions[0].RuleName)
		}
	})

	t.Run("deterministic for repeated calls", func(t *testing.T) {
		rules := []*Rule{
			dispatchRule("a", 100, base, "notion", "todoist"),
			dispatchRule("b", 100, base.Add(time.Minute), "webhook"),
		}
		it := testItem("todo", nil)
		first := Evaluate(it, rules)
		for i := 0; i < 10; i++ {
			if got := Evaluate(it, rules); !reflect.DeepEqual(first, got) {
				t.Fatalf("evaluation not stable: %+v vs %+v", first, got)
			}
		}
	})
}

func TestEvaluateConditions(t *testing.T) {
	base := time.Now()

	withConditions := func(conds ...Condition) *Rule {
		r := dispatchRule("conditional", 100, base, "notion")
		r.Conditions = conds
		return r
	}

	cases := []struct {
		name  string
		item  *item.Item
		cond  Condition
		match bool
	}{
		{"equals match", testItem("todo", nil), Condition{Field: "category", Operator: OpEquals, Value: "todo"}, true},
		{"equals mismatch", testItem("note", nil), Condition{Field: "category", Operator: OpEquals, Value: "todo"}, false},
		{"not_equals match", testItem("note", nil), Condition{Field: "category", Operator: OpNotEquals, Value: "todo"}, true},
		{"not_equals on missing field is non-matching", testItem("todo", nil), Condition{Field: "amount", Operator: OpNotEquals, Value: "5"}, false},
		{"contains case-insensitive", testItem("todo", nil), Condition{Field: "content", Operator: OpContains, Value: "PAY RENT"}, true},
		{"exists present", testItem("todo", map[string]interface{}{"due_date": "2026-02-10"}), Condition{Field: "due_date", Operator: OpExists}, true},
		{"exists absent", testItem("todo", nil), Condition{Field: "due_date", Operator: OpExists}, false},
		{"gt numeric", testItem("todo", map[string]interface{}{"amount": 120.0}), Condition{Field: "amount", Operator: OpGreater, Value: 100.0}, true},
		{"gt numeric string value", testItem("todo", map[string]interface{}{"amount": "120"}), Condition{Field: "amount", Operator: OpGreater, Value: "100"}, true},
		{"lt numeric", testItem("todo", map[string]interface{}{"amount": 50.0}), Condition{Field: "amount", Operator: OpLess, Value: 100.0}, true},
		{"gt non-numeric is non-matching", testItem("todo", map[string]interface{}{"amount": "soon"}), Condition{Field: "amount", Operator: OpGreater, Value: 100.0}, false},
		{"unknown operator is non-matching", testItem("todo", nil), Condition{Field: "category", Operator: "regex", Value: ".*"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Evaluate(tc.item, []*Rule{withConditions(tc.cond)})
			matched := len(out.Actions) == 1
			if matched != tc.match {
				t.Errorf("expected match=%v, got actions %+v", tc.match, out.Actions)
			}
		})
	}

	t.Run("conditions AND together", func(t *testing.T) {
		rule := withConditions(
			Condition{Field: "category", Operator: OpEquals, Value: "todo"},
			Condition{Field: "due_date", Operator: OpExists},
		)
		out := Evaluate(testItem("todo", nil), []*Rule{rule})
		if len(out.Actions) != 0 {
			t.Error("rule should not match when one condition fails")
		}

		out = Evaluate(testItem("todo", map[string]interface{}{"due_date": "2026-02-10"}), []*Rule{rule})
		if len(out.Actions) != 1 {
			t.Error("rule should match when all conditions hold")
		}
	})
}

func TestEvaluateSkip(t *testing.T) {
	base := time.Now()

	t.Run("skip anywhere suppresses all dispatch actions", func(t *testing.T) {
		skip := &Rule{
			ID:        "rul_skip",
			Name:      "mute todos",
			Priority:  100,
			Conditions: []Condition{
				{Field: "category", Operator: OpEquals, Value: "todo"},
			},
			Actions:   []Action{{Type: ActionSkip}},
			IsActive:  true,
			CreatedAt: base,
		}
		send := dispatchRule("send anyway", 50, base, "notion")

		out := Evaluate(testItem("todo", nil), []*Rule{send, skip})
		if !out.Skipped {
			t.Fatal("expected skipped outcome")
		}
		if len(out.Actions) != 0 {
			t.Errorf("expected empty action list, got %+v", out.Actions)
		}
		if out.SkippedBy != "mute todos" {
			t.Errorf("SkippedBy = %q", out.SkippedBy)
		}
	})

	t.Run("inactive skip rule is ignored", func(t *testing.T) {
		skip := &Rule{
			ID:        "rul_skip",
			Name:      "disabled mute",
			Priority:  1,
			Actions:   []Action{{Type: ActionSkip}},
			IsActive:  false,
			CreatedAt: base,
		}
		send := dispatchRule("send", 50, base, "notion")

		out := Evaluate(testItem("todo", nil), []*Rule{skip, send})
		if out.Skipped {
			t.Error("inactive rule should not skip")
		}
		if len(out.Actions) != 1 {
			t.Errorf("expected 1 action, got %d", len(out.Actions))
		}
	})
}

func TestEvaluateEdgeCases(t *testing.T) {
	base := time.Now()

	t.Run("zero matching rules yields empty plan", func(t *testing.T) {
		rule := dispatchRule("todos only", 100, base, "notion")
		rule.Conditions = []Condition{{Field: "category", Operator: OpEquals, Value: "todo"}}

		out := Evaluate(testItem("note", nil), []*Rule{rule})
		if len(out.Actions) != 0 || out.Skipped || len(out.MatchedRules) != 0 {
			t.Errorf("expected empty outcome, got %+v", out)
		}
	})

	t.Run("empty rule set yields empty plan", func(t *testing.T) {
		out := Evaluate(testItem("todo", nil), nil)
		if len(out.Actions) != 0 || out.Skipped {
			t.Errorf("expected empty outcome, got %+v", out)
		}
	})

	t.Run("same adapter type may be dispatched twice", func(t *testing.T) {
		a := dispatchRule("first", 10, base, "notion")
		b := dispatchRule("second", 20, base, "notion")

		out := Evaluate(testItem("todo", nil), []*Rule{a, b})
		if len(out.Actions) != 2 {
			t.Fatalf("expected 2 independent actions, got %d", len(out.Actions))
		}
		if out.Actions[0].RuleName == out.Actions[1].RuleName {
			t.Error("actions should come from distinct rules")
		}
	})
}
