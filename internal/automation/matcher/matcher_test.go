package matcher

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRules struct {
	rules []domain.Rule
}

func (f *fakeRules) ListActiveRules(_ context.Context, locationID string, trigger domain.TriggerType) ([]domain.Rule, error) {
	var out []domain.Rule
	for _, r := range f.rules {
		if r.LocationID == locationID && r.Trigger.Type == trigger && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRules) GetRule(_ context.Context, id uuid.UUID) (*domain.Rule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			rule := r
			return &rule, nil
		}
	}
	return nil, nil
}

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func quoteRule(name string, priority int, created time.Duration, conds ...domain.Condition) domain.Rule {
	return domain.Rule{
		ID:         uuid.New(),
		LocationID: "loc-1",
		Name:       name,
		Trigger:    domain.Trigger{Type: domain.TriggerQuoteEvent, SubType: "signed"},
		Conditions: conds,
		Actions:    []domain.Action{{Type: domain.ActionSendSMS}},
		Priority:   priority,
		IsActive:   true,
		CreatedAt:  base.Add(created),
	}
}

func signedEvent(data map[string]any) domain.Event {
	return domain.NewEvent(domain.EventQuoteSigned, "loc-1", "quote-1", data)
}

func names(matches []domain.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Rule.Name
	}
	return out
}

func TestMatchOrdersByPriorityThenCreation(t *testing.T) {
	store := &fakeRules{rules: []domain.Rule{
		quoteRule("low", 1, 0),
		quoteRule("high-late", 10, 2*time.Minute),
		quoteRule("high-early", 10, time.Minute),
		quoteRule("mid", 5, 0),
	}}

	matches, errs, err := New(store).Match(context.Background(), signedEvent(nil))
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"high-early", "high-late", "mid", "low"}, names(matches))
}

func TestMatchIsDeterministicRegardlessOfStoreOrder(t *testing.T) {
	rules := []domain.Rule{
		quoteRule("a", 3, 0),
		quoteRule("b", 3, 0),
		quoteRule("c", 7, time.Second),
		quoteRule("d", 1, 0, domain.Condition{Field: "quote.total", Operator: domain.OpGT, Value: 10}),
	}
	evt := signedEvent(map[string]any{"quote": map[string]any{"total": 50.0}})

	first, _, err := New(&fakeRules{rules: rules}).Match(context.Background(), evt)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.Rule(nil), rules...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		again, _, err := New(&fakeRules{rules: shuffled}).Match(context.Background(), evt)
		require.NoError(t, err)
		assert.Equal(t, names(first), names(again))
	}
}

func TestMatchAppliesAndSemantics(t *testing.T) {
	rule := quoteRule("big-quote", 1, 0,
		domain.Condition{Field: "stage", Operator: domain.OpEquals, Value: "quote-sent"},
		domain.Condition{Field: "quote.total", Operator: domain.OpGT, Value: 1000},
	)
	m := New(&fakeRules{rules: []domain.Rule{rule}})

	matches, _, err := m.Match(context.Background(), signedEvent(map[string]any{
		"stage": "quote-sent", "quote": map[string]any{"total": 500.0},
	}))
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, _, err = m.Match(context.Background(), signedEvent(map[string]any{
		"stage": "quote-sent", "quote": map[string]any{"total": 1500.0},
	}))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, _, err = m.Match(context.Background(), signedEvent(map[string]any{
		"stage": "draft", "quote": map[string]any{"total": 1500.0},
	}))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchReportsUnknownOperatorAndFailsSafe(t *testing.T) {
	broken := quoteRule("broken", 1, 0, domain.Condition{Field: "quote.total", Operator: "approximately", Value: 10})
	healthy := quoteRule("healthy", 1, time.Second)

	matches, errs, err := New(&fakeRules{rules: []domain.Rule{broken, healthy}}).Match(context.Background(),
		signedEvent(map[string]any{"quote": map[string]any{"total": 10.0}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"healthy"}, names(matches))
	require.Len(t, errs, 1)
	assert.Equal(t, broken.ID, errs[0].RuleID)
	assert.Contains(t, errs[0].Reason, "unknown operator")
}

func TestMatchRespectsScopes(t *testing.T) {
	pipeline := "pipe-1"
	stageRule := domain.Rule{
		ID: uuid.New(), LocationID: "loc-1", Name: "stage", IsActive: true,
		Trigger:    domain.Trigger{Type: domain.TriggerStageEntered, StageID: "signed"},
		PipelineID: &pipeline,
		Actions:    []domain.Action{{Type: domain.ActionCreateTask}},
	}
	m := New(&fakeRules{rules: []domain.Rule{stageRule}})

	evt := domain.NewEvent(domain.EventStageEntered, "loc-1", "proj-1", map[string]any{
		"stage": map[string]any{"id": "signed"}, "pipelineId": "pipe-1",
	})
	matches, _, err := m.Match(context.Background(), evt)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	evt.Data["pipelineId"] = "pipe-2"
	matches, _, err = m.Match(context.Background(), evt)
	require.NoError(t, err)
	assert.Empty(t, matches)

	other := domain.NewEvent(domain.EventStageEntered, "loc-2", "proj-1", map[string]any{
		"stage": map[string]any{"id": "signed"}, "pipelineId": "pipe-1",
	})
	matches, _, err = m.Match(context.Background(), other)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchesOptionalField(t *testing.T) {
	rule := "Pipe-1"
	blank := "  "

	assert.True(t, matchesOptionalField(nil, "pipe-1"), "unset rule value matches anything")
	assert.True(t, matchesOptionalField(&blank, ""), "blank rule value matches anything")
	assert.True(t, matchesOptionalField(&rule, " pipe-1 "), "case and surrounding space are ignored")
	assert.False(t, matchesOptionalField(&rule, "pipe-2"))
	assert.False(t, matchesOptionalField(&rule, ""), "a set rule value needs an actual value")
}

func TestMatchCalendarScopeIgnoresCase(t *testing.T) {
	calendar := "Cal-Main"
	rule := domain.Rule{
		ID: uuid.New(), LocationID: "loc-1", Name: "calendar", IsActive: true,
		Trigger:    domain.Trigger{Type: domain.TriggerAppointmentEvent, SubType: "scheduled"},
		CalendarID: &calendar,
		Actions:    []domain.Action{{Type: domain.ActionSendSMS}},
	}
	m := New(&fakeRules{rules: []domain.Rule{rule}})

	evt := domain.NewEvent(domain.EventAppointmentScheduled, "loc-1", "appt-1", map[string]any{
		"appointment": map[string]any{"calendarId": "cal-main"},
	})
	matches, _, err := m.Match(context.Background(), evt)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	delete(evt.Data, "appointment")
	matches, _, err = m.Match(context.Background(), evt)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchSMSKeywordFilter(t *testing.T) {
	rule := domain.Rule{
		ID: uuid.New(), LocationID: "loc-1", Name: "stop", IsActive: true,
		Trigger: domain.Trigger{Type: domain.TriggerSMSReceived, Keywords: []string{"STOP"}},
		Actions: []domain.Action{{Type: domain.ActionAssignUser}},
	}
	m := New(&fakeRules{rules: []domain.Rule{rule}})

	evt := domain.NewEvent(domain.EventSMSReceived, "loc-1", "msg-1", map[string]any{"message": map[string]any{"body": "please stop"}})
	matches, _, err := m.Match(context.Background(), evt)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	evt.Data["message"] = map[string]any{"body": "unstoppable"}
	matches, _, err = m.Match(context.Background(), evt)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchTimeDueIsPinnedToRule(t *testing.T) {
	reminder := domain.Rule{
		ID: uuid.New(), LocationID: "loc-1", Name: "reminder", IsActive: true,
		Trigger: domain.Trigger{Type: domain.TriggerTimeBased, AnchorEvent: domain.EventAppointmentScheduled, Anchor: "appointment.startTime", OffsetMinutes: -60},
		Actions: []domain.Action{{Type: domain.ActionSendSMS}},
	}
	other := reminder
	other.ID = uuid.New()
	other.Name = "other"
	m := New(&fakeRules{rules: []domain.Rule{reminder, other}})

	evt := domain.NewEvent(domain.EventTimeDue, "loc-1", "appt-1", nil)
	matches, _, err := m.Match(context.Background(), evt)
	require.NoError(t, err)
	assert.Empty(t, matches)

	evt.TargetRuleID = &reminder.ID
	matches, _, err = m.Match(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, []string{"reminder"}, names(matches))
}

func TestEvaluateOperators(t *testing.T) {
	ctx := map[string]any{
		"quote":   map[string]any{"status": "signed", "total": 1200.0, "depositAmount": 0.0},
		"contact": map[string]any{"tags": []any{"vip", "roofing"}, "email": ""},
	}
	cases := []struct {
		cond domain.Condition
		want bool
	}{
		{domain.Condition{Field: "quote.status", Operator: domain.OpEquals, Value: "signed"}, true},
		{domain.Condition{Field: "quote.depositAmount", Operator: domain.OpEquals, Value: 0}, true},
		{domain.Condition{Field: "quote.status", Operator: domain.OpIn, Value: []any{"sent", "signed"}}, true},
		{domain.Condition{Field: "quote.status", Operator: domain.OpNotIn, Value: []string{"declined"}}, true},
		{domain.Condition{Field: "quote.missing", Operator: domain.OpNotIn, Value: []any{"x"}}, true},
		{domain.Condition{Field: "quote.missing", Operator: domain.OpEquals, Value: "x"}, false},
		{domain.Condition{Field: "quote.total", Operator: domain.OpGTE, Value: "1200"}, true},
		{domain.Condition{Field: "quote.total", Operator: domain.OpLT, Value: 1000}, false},
		{domain.Condition{Field: "contact.tags", Operator: domain.OpContains, Value: "VIP"}, false},
		{domain.Condition{Field: "contact.tags", Operator: domain.OpContains, Value: "vip"}, true},
		{domain.Condition{Field: "contact.email", Operator: domain.OpExists}, false},
		{domain.Condition{Field: "contact.email", Operator: domain.OpExists, Value: false}, true},
	}
	for _, tc := range cases {
		got, reason := Evaluate(tc.cond, ctx)
		assert.Empty(t, reason, "%+v", tc.cond)
		assert.Equal(t, tc.want, got, "%+v", tc.cond)
	}

	got, reason := Evaluate(domain.Condition{Field: "quote.status", Operator: domain.OpIn, Value: "signed"}, ctx)
	assert.False(t, got)
	assert.NotEmpty(t, reason)
}
