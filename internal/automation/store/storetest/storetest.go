// Package storetest is a contract suite every automation store implementation runs.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/automation/schedule"
	"fieldservice_backend/internal/automation/store"
	"fieldservice_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Each call must be isolated from the others.
type Factory func(t *testing.T) store.Store

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("RuleLifecycle", func(t *testing.T) { testRuleLifecycle(t, newStore(t)) })
	t.Run("ActiveRulesByPriority", func(t *testing.T) { testActiveRuleOrder(t, newStore(t)) })
	t.Run("RuleCountersAreAtomic", func(t *testing.T) { testRuleCounters(t, newStore(t)) })
	t.Run("SeedKeyIsUniquePerLocation", func(t *testing.T) { testSeedKey(t, newStore(t)) })
	t.Run("QueueFingerprintIsUnique", func(t *testing.T) { testQueueFingerprint(t, newStore(t)) })
	t.Run("QueueClaimAndGuards", func(t *testing.T) { testQueueClaim(t, newStore(t)) })
	t.Run("QueueRetryAndRequeue", func(t *testing.T) { testQueueRetry(t, newStore(t)) })
	t.Run("AnchorVersioning", func(t *testing.T) { testAnchors(t, newStore(t)) })
	t.Run("AnchorEventOrder", func(t *testing.T) { testAnchorEventOrder(t, newStore(t)) })
	t.Run("TriggerLifecycle", func(t *testing.T) { testTriggers(t, newStore(t)) })
	t.Run("RecurringCursorCAS", func(t *testing.T) { testCursor(t, newStore(t)) })
	t.Run("TrackingSession", func(t *testing.T) { testTracking(t, newStore(t)) })
}

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func sampleRule(locationID string) domain.Rule {
	return domain.Rule{
		LocationID: locationID,
		Name:       "thank you",
		Trigger:    domain.Trigger{Type: domain.TriggerQuoteEvent, SubType: "signed"},
		Conditions: []domain.Condition{{Field: "quote.total", Operator: domain.OpGT, Value: 1000.0}},
		Actions: []domain.Action{{
			Type:   domain.ActionSendSMS,
			Config: map[string]any{"message": "Thanks {{contact.name}}"},
		}},
		Priority: 5,
		IsActive: true,
	}
}

func testRuleLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.CreateRule(ctx, sampleRule("loc-1"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	got, err := s.GetRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "thank you", got.Name)
	assert.Equal(t, "Thanks {{contact.name}}", got.Actions[0].Config["message"])
	assert.Equal(t, domain.OpGT, got.Conditions[0].Operator)

	active, err := s.ListActiveRules(ctx, "loc-1", domain.TriggerQuoteEvent)
	require.NoError(t, err)
	require.Len(t, active, 1)

	other, err := s.ListActiveRules(ctx, "loc-2", domain.TriggerQuoteEvent)
	require.NoError(t, err)
	assert.Empty(t, other)

	got.Name = "renamed"
	got.Priority = 9
	updated, err := s.UpdateRule(ctx, *got)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	require.NoError(t, s.SetRuleActive(ctx, "loc-1", created.ID, false))
	active, err = s.ListActiveRules(ctx, "loc-1", domain.TriggerQuoteEvent)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListRules(ctx, domain.RuleFilter{LocationID: "loc-1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.True(t, apperr.Is(s.SetRuleActive(ctx, "loc-2", created.ID, true), apperr.KindNotFound))
	_, err = s.GetRule(ctx, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func testActiveRuleOrder(t *testing.T, s store.Store) {
	ctx := context.Background()

	low := sampleRule("loc-1")
	low.Name = "low"
	low.Priority = 1
	_, err := s.CreateRule(ctx, low)
	require.NoError(t, err)

	high := sampleRule("loc-1")
	high.Name = "high"
	high.Priority = 9
	_, err = s.CreateRule(ctx, high)
	require.NoError(t, err)

	active, err := s.ListActiveRules(ctx, "loc-1", domain.TriggerQuoteEvent)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "high", active[0].Name)
	assert.Equal(t, "low", active[1].Name)
}

func testRuleCounters(t *testing.T, s store.Store) {
	ctx := context.Background()
	rule, err := s.CreateRule(ctx, sampleRule("loc-1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(ok bool) {
			defer wg.Done()
			assert.NoError(t, s.IncrementRuleCounters(ctx, rule.ID, ok))
		}(i%4 != 0)
	}
	wg.Wait()

	got, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 20, got.ExecutionCount)
	assert.EqualValues(t, 15, got.SuccessCount)
	assert.EqualValues(t, 5, got.FailureCount)

	// Updates keep counters.
	got.Name = "edited"
	updated, err := s.UpdateRule(ctx, *got)
	require.NoError(t, err)
	assert.EqualValues(t, 20, updated.ExecutionCount)
}

func testSeedKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := "quote-signed-thanks"

	r := sampleRule("loc-1")
	r.SeedKey = &key
	_, err := s.CreateRule(ctx, r)
	require.NoError(t, err)

	dup := sampleRule("loc-1")
	dup.SeedKey = &key
	_, err = s.CreateRule(ctx, dup)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	other := sampleRule("loc-2")
	other.SeedKey = &key
	_, err = s.CreateRule(ctx, other)
	require.NoError(t, err)

	found, err := s.FindRuleBySeedKey(ctx, "loc-1", key)
	require.NoError(t, err)
	assert.Equal(t, "loc-1", found.LocationID)
}

func newItem(rule *domain.Rule, occurrence string, maxAttempts int) domain.QueueItem {
	evt := domain.NewEvent(domain.EventQuoteSigned, rule.LocationID, "quote-1", map[string]any{"quote": map[string]any{"total": 1200.0}})
	evt.OccurrenceKey = occurrence
	return domain.NewQueueItem(rule, evt, maxAttempts, base)
}

func testQueueFingerprint(t *testing.T, s store.Store) {
	ctx := context.Background()
	rule := &domain.Rule{ID: uuid.New(), LocationID: "loc-1"}

	first, created, err := s.InsertQueueItem(ctx, newItem(rule, "occ-1", 3))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.InsertQueueItem(ctx, newItem(rule, "occ-1", 3))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, created, err = s.InsertQueueItem(ctx, newItem(rule, "occ-2", 3))
	require.NoError(t, err)
	assert.True(t, created)

	items, err := s.ListQueueItems(ctx, domain.QueueFilter{LocationID: "loc-1"})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func testQueueClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	rule := &domain.Rule{ID: uuid.New(), LocationID: "loc-1"}
	item, _, err := s.InsertQueueItem(ctx, newItem(rule, "occ-1", 3))
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, "w1", base, base.Add(-5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, item.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, domain.QueueProcessing, claimed.Status)

	none, err := s.ClaimNext(ctx, "w2", base.Add(time.Minute), base.Add(-4*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, none, "fresh claims are not stolen")

	// A heartbeat keeps the claim fresh past the original stale deadline.
	require.NoError(t, s.ExtendClaim(ctx, item.ID, "w1", base.Add(4*time.Minute)))
	none, err = s.ClaimNext(ctx, "w2", base.Add(8*time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, none, "extended claims are not stolen")
	assert.ErrorIs(t, s.ExtendClaim(ctx, item.ID, "w2", base.Add(4*time.Minute)), domain.ErrClaimLost)

	later := base.Add(10 * time.Minute)
	stolen, err := s.ClaimNext(ctx, "w2", later, later.Add(-5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, stolen, "stale claims are recovered")
	assert.Equal(t, 2, stolen.Attempts)
	assert.ErrorIs(t, s.ExtendClaim(ctx, item.ID, "w1", later), domain.ErrClaimLost)

	run := domain.RunLog{Attempt: 1, WorkerID: "w1", FinishedAt: later}
	err = s.MarkCompleted(ctx, item.ID, "w1", run, later)
	assert.ErrorIs(t, err, domain.ErrClaimLost)

	run.WorkerID = "w2"
	require.NoError(t, s.MarkCompleted(ctx, item.ID, "w2", run, later))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCompleted, got.Status)
	assert.Len(t, got.ActionLog, 1)
	require.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, s.MarkCompleted(ctx, item.ID, "w2", run, later), domain.ErrClaimLost)
}

func testQueueRetry(t *testing.T, s store.Store) {
	ctx := context.Background()
	rule := &domain.Rule{ID: uuid.New(), LocationID: "loc-1"}
	item, _, err := s.InsertQueueItem(ctx, newItem(rule, "occ-1", 2))
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, "w1", base, base.Add(-time.Hour))
	require.NoError(t, err)
	retryAt := base.Add(30 * time.Second)
	require.NoError(t, s.MarkRetry(ctx, item.ID, "w1", domain.RunLog{Attempt: 1, Error: "crm down"}, retryAt, base))

	early, err := s.ClaimNext(ctx, "w1", base.Add(10*time.Second), base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, early, "backoff gate holds")

	again, err := s.ClaimNext(ctx, "w1", retryAt, base.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)
	require.NotNil(t, again.LastError)
	assert.Equal(t, "crm down", *again.LastError)

	require.NoError(t, s.MarkDeadLettered(ctx, item.ID, "w1", domain.RunLog{Attempt: 2, Error: "crm down"}, retryAt))
	dead, err := s.ListQueueItems(ctx, domain.QueueFilter{Status: domain.QueueDeadLettered})
	require.NoError(t, err)
	require.Len(t, dead, 1)

	require.NoError(t, s.Requeue(ctx, item.ID, retryAt))
	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePending, got.Status)
	assert.Equal(t, 0, got.Attempts)

	err = s.Requeue(ctx, item.ID, retryAt)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func testAnchors(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := domain.AnchorKey{LocationID: "loc-1", EntityID: "appt-1", Field: "appointment.startTime"}
	at := func(minutes int) time.Time { return base.Add(-time.Hour).Add(time.Duration(minutes) * time.Minute) }

	missing, err := s.GetAnchor(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, missing)

	a, applied, err := s.UpsertAnchor(ctx, key, base, at(1))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.EqualValues(t, 1, a.Version)

	a, applied, err = s.UpsertAnchor(ctx, key, base, at(1))
	require.NoError(t, err)
	assert.True(t, applied, "redelivery of the same event")
	assert.EqualValues(t, 1, a.Version, "same time keeps the version")

	a, applied, err = s.UpsertAnchor(ctx, key, base.Add(time.Hour), at(2))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.EqualValues(t, 2, a.Version)

	a, applied, err = s.InvalidateAnchor(ctx, key, at(3))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.EqualValues(t, 3, a.Version)

	a, applied, err = s.InvalidateAnchor(ctx, key, at(3))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.EqualValues(t, 3, a.Version, "clearing a cleared anchor keeps the version")

	a, applied, err = s.UpsertAnchor(ctx, key, base.Add(time.Hour), at(4))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.EqualValues(t, 4, a.Version, "re-planning after invalidation bumps again")

	live, err := s.GetAnchor(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.EqualValues(t, 4, live.Version)
	assert.True(t, live.Time.Equal(base.Add(time.Hour)))
	assert.True(t, live.EventAt.Equal(at(4)))
}

func testAnchorEventOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := domain.AnchorKey{LocationID: "loc-1", EntityID: "appt-2", Field: "appointment.startTime"}
	booked, moved, cancelled := base.Add(-3*time.Hour), base.Add(-2*time.Hour), base.Add(-time.Hour)

	_, _, err := s.UpsertAnchor(ctx, key, base, booked)
	require.NoError(t, err)
	_, _, err = s.UpsertAnchor(ctx, key, base.Add(6*time.Hour), moved)
	require.NoError(t, err)

	a, applied, err := s.UpsertAnchor(ctx, key, base, booked)
	require.NoError(t, err)
	assert.False(t, applied, "an older booking does not move the anchor back")
	assert.EqualValues(t, 2, a.Version)
	assert.True(t, a.Time.Equal(base.Add(6*time.Hour)))

	_, applied, err = s.InvalidateAnchor(ctx, key, cancelled)
	require.NoError(t, err)
	require.True(t, applied)

	a, applied, err = s.UpsertAnchor(ctx, key, base.Add(6*time.Hour), moved)
	require.NoError(t, err)
	assert.False(t, applied, "a late reschedule does not revive a cancelled anchor")
	assert.True(t, a.Time.IsZero())

	_, applied, err = s.InvalidateAnchor(ctx, key, booked)
	require.NoError(t, err)
	assert.False(t, applied)

	live, err := s.GetAnchor(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.EqualValues(t, 3, live.Version)
	assert.True(t, live.EventAt.Equal(cancelled))
}

func trigger(ruleID uuid.UUID, version int64, fireAt time.Time) domain.ScheduledTrigger {
	return domain.ScheduledTrigger{
		ID:            uuid.New(),
		LocationID:    "loc-1",
		RuleID:        ruleID,
		EntityID:      "appt-1",
		AnchorEvent:   domain.EventAppointmentScheduled,
		AnchorField:   "appointment.startTime",
		AnchorTime:    fireAt.Add(24 * time.Hour),
		OffsetMinutes: -1440,
		FireAt:        fireAt,
		AnchorVersion: version,
		Event:         domain.NewEvent(domain.EventAppointmentScheduled, "loc-1", "appt-1", map[string]any{"x": "y"}),
		CreatedAt:     base,
	}
}

func testTriggers(t *testing.T, s store.Store) {
	ctx := context.Background()
	ruleID := uuid.New()
	key := domain.AnchorKey{LocationID: "loc-1", EntityID: "appt-1", Field: "appointment.startTime"}

	v1 := trigger(ruleID, 1, base)
	created, err := s.InsertTrigger(ctx, v1)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.InsertTrigger(ctx, trigger(ruleID, 1, base))
	require.NoError(t, err)
	assert.False(t, created, "unique on rule, entity and version")

	v2 := trigger(ruleID, 2, base.Add(time.Hour))
	_, err = s.InsertTrigger(ctx, v2)
	require.NoError(t, err)

	n, err := s.CancelTriggers(ctx, key, 2, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	due, err := s.ListDueTriggers(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, v2.ID, due[0].ID)
	assert.Equal(t, "y", due[0].Event.Data["x"])

	won, err := s.MarkTriggerFired(ctx, v2.ID, base)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = s.MarkTriggerFired(ctx, v2.ID, base)
	require.NoError(t, err)
	assert.False(t, won, "test-and-set fires once")

	require.NoError(t, s.ReleaseTrigger(ctx, v2.ID))
	got, err := s.GetTrigger(ctx, v2.ID)
	require.NoError(t, err)
	assert.False(t, got.Fired)

	cancelled, err := s.GetTrigger(ctx, v1.ID)
	require.NoError(t, err)
	assert.True(t, cancelled.Fired)
	assert.True(t, cancelled.Cancelled)

	pending, err := s.ListTriggers(ctx, schedule.TriggerFilter{LocationID: "loc-1", EntityID: "appt-1", Pending: true})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func testCursor(t *testing.T, s store.Store) {
	ctx := context.Background()
	ruleID := uuid.New()

	ok, err := s.AdvanceRecurringCursor(ctx, ruleID, nil, base)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AdvanceRecurringCursor(ctx, ruleID, nil, base)
	require.NoError(t, err)
	assert.False(t, ok, "cursor already initialised")

	expected := base
	ok, err = s.AdvanceRecurringCursor(ctx, ruleID, &expected, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AdvanceRecurringCursor(ctx, ruleID, &expected, base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "stale expectation loses")

	cur, err := s.GetRecurringCursor(ctx, ruleID)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.True(t, cur.NextRunAt.Equal(base.Add(24*time.Hour)))
}

func testTracking(t *testing.T, s store.Store) {
	err := s.CreateTrackingSession(context.Background(), executor.TrackingSession{
		Token:         uuid.New(),
		LocationID:    "loc-1",
		AppointmentID: "appt-1",
		TechnicianID:  "tech-1",
		ExpiresAt:     base.Add(4 * time.Hour),
		CreatedAt:     base,
	})
	require.NoError(t, err)
}
