package matcher

import (
	"fmt"
	"strings"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/render"
)

// EvaluateAll applies AND semantics over the rule's conditions. Every condition is
// evaluated so all malformed ones are reported, not only the first.
func EvaluateAll(rule *domain.Rule, ctx render.Context) (bool, []domain.MatchError) {
	matched := true
	var errs []domain.MatchError
	for _, c := range rule.Conditions {
		ok, reason := Evaluate(c, ctx)
		if reason != "" {
			errs = append(errs, domain.MatchError{
				RuleID:   rule.ID,
				Field:    c.Field,
				Operator: c.Operator,
				Reason:   reason,
			})
		}
		if !ok {
			matched = false
		}
	}
	return matched, errs
}

// Evaluate returns the condition's truth value. A non-empty reason means the condition
// was malformed and evaluated to false.
func Evaluate(c domain.Condition, ctx render.Context) (bool, string) {
	actual, present := ctx.Lookup(c.Field)

	switch c.Operator {
	case domain.OpExists:
		want := true
		if c.Value != nil {
			b, ok := render.Bool(c.Value)
			if !ok {
				return false, "exists expects a boolean value"
			}
			want = b
		}
		return (present && !isEmpty(actual)) == want, ""

	case domain.OpEquals:
		return present && equal(actual, c.Value), ""

	case domain.OpNotEquals:
		return !present || !equal(actual, c.Value), ""

	case domain.OpIn, domain.OpNotIn:
		list, ok := c.Value.([]any)
		if !ok {
			list, ok = toList(c.Value)
		}
		if !ok {
			return false, fmt.Sprintf("%s expects a list value", c.Operator)
		}
		found := present && inList(actual, list)
		if c.Operator == domain.OpIn {
			return found, ""
		}
		return !found, ""

	case domain.OpGT, domain.OpGTE, domain.OpLT, domain.OpLTE:
		if !present || actual == nil {
			return false, ""
		}
		cmp, ok := compare(actual, c.Value)
		if !ok {
			return false, fmt.Sprintf("cannot compare %T with %T", actual, c.Value)
		}
		switch c.Operator {
		case domain.OpGT:
			return cmp > 0, ""
		case domain.OpGTE:
			return cmp >= 0, ""
		case domain.OpLT:
			return cmp < 0, ""
		default:
			return cmp <= 0, ""
		}

	case domain.OpContains:
		if !present {
			return false, ""
		}
		switch typed := actual.(type) {
		case string:
			return strings.Contains(strings.ToLower(typed), strings.ToLower(render.Stringify(c.Value))), ""
		case []any:
			return inList(c.Value, typed), ""
		}
		return false, fmt.Sprintf("contains expects a string or list field, got %T", actual)
	}

	return false, fmt.Sprintf("unknown operator %q", c.Operator)
}

func equal(a, b any) bool {
	if an, ok := numeric(a); ok {
		if bn, ok := numeric(b); ok {
			return an == bn
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := render.Bool(b); ok {
			return ab == bb
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return render.Stringify(a) == render.Stringify(b)
}

// numeric accepts only real numbers, so "007" is not equal to 7.
func numeric(v any) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return render.Number(v)
}

func compare(a, b any) (int, bool) {
	if an, ok := render.Number(a); ok {
		if bn, ok := render.Number(b); ok {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			}
			return 0, true
		}
	}
	if at, ok := render.Time(a); ok {
		if bt, ok := render.Time(b); ok {
			return at.Compare(bt), true
		}
	}
	return 0, false
}

func inList(v any, list []any) bool {
	for _, item := range list {
		if equal(v, item) {
			return true
		}
	}
	return false
}

func toList(v any) ([]any, bool) {
	list, ok := domain.NormalizeValue(v).([]any)
	return list, ok
}

func isEmpty(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	}
	return false
}
