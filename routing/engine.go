package routing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/guchang/superinbox-sub005/item"
)

// ResolvedAction is one dispatch step produced by evaluation, stamped
// with the rule that contributed it for deterministic reporting.
type ResolvedAction struct {
	RuleID      string
	RuleName    string
	AdapterType string
	Config      map[string]interface{}
}

// Outcome is the result of evaluating an item against a rule set.
// Skipped and Actions are mutually exclusive: a skip_distribution action
// anywhere in the accumulated list suppresses every dispatch action.
type Outcome struct {
	Actions      []ResolvedAction
	Skipped      bool
	SkippedBy    string // name of the rule that contributed the skip
	SkippedByID  string
	MatchedRules []string
}

// Evaluate runs the item through the rule set and produces the ordered
// dispatch plan. It is pure: no side effects, deterministic and
// order-stable for repeated calls with unchanged inputs.
//
// Active rules run in priority order (ascending, ties broken by creation
// time, earliest first). A rule matches when every condition holds;
// missing fields make a condition false, never an error.
func Evaluate(it *item.Item, rules []*Rule) Outcome {
	ordered := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		if ordered[a].Priority != ordered[b].Priority {
			return ordered[a].Priority < ordered[b].Priority
		}
		return ordered[a].CreatedAt.Before(ordered[b].CreatedAt)
	})

	var out Outcome
	for _, rule := range ordered {
		if !matches(it, rule) {
			continue
		}
		out.MatchedRules = append(out.MatchedRules, rule.Name)

		for _, action := range rule.Actions {
			switch action.Type {
			case ActionSkip:
				if !out.Skipped {
					out.Skipped = true
					out.SkippedBy = rule.Name
					out.SkippedByID = rule.ID
				}
			case ActionDispatch:
				out.Actions = append(out.Actions, ResolvedAction{
					RuleID:      rule.ID,
					RuleName:    rule.Name,
					AdapterType: action.AdapterType,
					Config:      action.Config,
				})
			}
		}
	}

	// A skip anywhere short-circuits the whole plan.
	if out.Skipped {
		out.Actions = nil
	}
	return out
}

func matches(it *item.Item, rule *Rule) bool {
	return MatchesConditions(it, rule.Conditions)
}

// MatchesConditions reports whether the item satisfies every condition;
// an empty list matches. Rules use it for their condition blocks, and
// destinations use it for adapter-level gating configured alongside the
// transport settings.
func MatchesConditions(it *item.Item, conds []Condition) bool {
	for _, cond := range conds {
		if !evalCondition(it, cond) {
			return false
		}
	}
	return true
}

func evalCondition(it *item.Item, cond Condition) bool {
	val, ok := it.Field(cond.Field)

	switch cond.Operator {
	case OpExists:
		return ok
	case OpEquals:
		return ok && asString(val) == asString(cond.Value)
	case OpNotEquals:
		// Absent fields are non-matching for every operator, including
		// negations: a rule about a field the item lacks does not apply.
		return ok && asString(val) != asString(cond.Value)
	case OpContains:
		return ok && strings.Contains(
			strings.ToLower(asString(val)),
			strings.ToLower(asString(cond.Value)),
		)
	case OpGreater:
		a, aok := asNumber(val)
		b, bok := asNumber(cond.Value)
		return ok && aok && bok && a > b
	case OpLess:
		a, aok := asNumber(val)
		b, bok := asNumber(cond.Value)
		return ok && aok && bok && a < b
	default:
		// Unknown operators are treated as non-matching, not as an error.
		return false
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []interface{}:
		parts := make([]string, 0, len(s))
		for _, e := range s {
			parts = append(parts, asString(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
