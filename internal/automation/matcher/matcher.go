// Package matcher selects the active rules an automation event fires.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/render"
	"fieldservice_backend/platform/apperr"

	"github.com/google/uuid"
)

// RuleReader is the read side of the rule store used for matching.
type RuleReader interface {
	ListActiveRules(ctx context.Context, locationID string, trigger domain.TriggerType) ([]domain.Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*domain.Rule, error)
}

// Matcher evaluates rules against events. It never writes.
type Matcher struct {
	rules RuleReader
}

// New creates a matcher over the given rule reader.
func New(rules RuleReader) *Matcher {
	return &Matcher{rules: rules}
}

// Match returns the rules fired by evt, ordered by priority (highest first) and then
// by creation order. Conditions that cannot be evaluated count as false and are
// returned as MatchErrors. The error return is reserved for store failures.
func (m *Matcher) Match(ctx context.Context, evt domain.Event) ([]domain.Match, []domain.MatchError, error) {
	family, subType, ok := evt.Type.Family()
	if !ok {
		return nil, nil, fmt.Errorf("unknown event type %q", evt.Type)
	}

	candidates, err := m.candidates(ctx, evt, family)
	if err != nil {
		return nil, nil, err
	}

	evalCtx := render.BuildContext(evt)
	var (
		matches []domain.Match
		errs    []domain.MatchError
	)
	for i := range candidates {
		rule := &candidates[i]
		if !rule.IsActive || rule.LocationID != evt.LocationID || rule.Trigger.Type != family {
			continue
		}
		if !inScope(rule, subType, evalCtx) {
			continue
		}
		ok, condErrs := EvaluateAll(rule, evalCtx)
		errs = append(errs, condErrs...)
		if ok {
			matches = append(matches, domain.Match{Rule: rule})
		}
	}

	SortMatches(matches)
	return matches, errs, nil
}

func (m *Matcher) candidates(ctx context.Context, evt domain.Event, family domain.TriggerType) ([]domain.Rule, error) {
	if family == domain.TriggerTimeBased || family == domain.TriggerRecurringSchedule {
		if evt.TargetRuleID == nil {
			return nil, nil
		}
		rule, err := m.rules.GetRule(ctx, *evt.TargetRuleID)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if rule == nil {
			return nil, nil
		}
		return []domain.Rule{*rule}, nil
	}

	rules, err := m.rules.ListActiveRules(ctx, evt.LocationID, family)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return rules, nil
}

// SortMatches orders by priority descending, then creation time, then ID.
func SortMatches(matches []domain.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i].Rule, matches[j].Rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func inScope(rule *domain.Rule, subType string, ctx render.Context) bool {
	t := rule.Trigger
	switch t.Type {
	case domain.TriggerStageEntered:
		if !matchesOptionalField(&t.StageID, firstText(ctx, "stage.id", "stageId")) {
			return false
		}
	case domain.TriggerQuoteEvent, domain.TriggerAppointmentEvent:
		if t.SubType != subType {
			return false
		}
	case domain.TriggerContactEvent:
		if t.SubType != subType {
			return false
		}
		if t.Tag != "" && !hasTag(ctx, t.Tag) {
			return false
		}
	case domain.TriggerSMSReceived:
		if len(t.Keywords) > 0 && !anyKeyword(firstText(ctx, "message.body"), t.Keywords) {
			return false
		}
	}

	if !matchesOptionalField(rule.PipelineID, firstText(ctx, "pipelineId", "project.pipelineId", "opportunity.pipelineId")) {
		return false
	}
	return matchesOptionalField(rule.CalendarID, firstText(ctx, "calendarId", "appointment.calendarId"))
}

// matchesOptionalField treats an unset or blank rule value as "any". A set value
// needs a non-blank actual value equal to it ignoring case and surrounding space.
func matchesOptionalField(ruleValue *string, actual string) bool {
	if ruleValue == nil {
		return true
	}
	ruleText := strings.TrimSpace(*ruleValue)
	if ruleText == "" {
		return true
	}
	actual = strings.TrimSpace(actual)
	if actual == "" {
		return false
	}
	return strings.EqualFold(ruleText, actual)
}

func firstText(ctx render.Context, paths ...string) string {
	for _, p := range paths {
		if v := render.Text(ctx, p); v != "" {
			return v
		}
	}
	return ""
}

func hasTag(ctx render.Context, tag string) bool {
	if strings.EqualFold(firstText(ctx, "tag"), tag) {
		return true
	}
	tags, _ := ctx.Lookup("contact.tags")
	if list, ok := tags.([]any); ok {
		for _, item := range list {
			if strings.EqualFold(render.Stringify(item), tag) {
				return true
			}
		}
	}
	return false
}

func anyKeyword(body string, keywords []string) bool {
	for _, kw := range keywords {
		if domain.KeywordMatches(body, kw) {
			return true
		}
	}
	return false
}
