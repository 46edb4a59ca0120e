package schedule_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/schedule"
	"fieldservice_backend/internal/automation/store/memory"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.Event
	fail   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, evt domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.events = append(d.events, evt)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type fixture struct {
	store      *memory.Store
	sched      *schedule.Scheduler
	dispatcher *recordingDispatcher
	now        time.Time
	rule       domain.Rule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), dispatcher: &recordingDispatcher{}, now: start.Add(-48 * time.Hour)}
	rule, err := f.store.CreateRule(context.Background(), domain.Rule{
		ID:         uuid.New(),
		LocationID: "loc-1",
		Name:       "appointment reminder",
		Trigger: domain.Trigger{
			Type:          domain.TriggerTimeBased,
			AnchorEvent:   domain.EventAppointmentScheduled,
			Anchor:        "appointment.startTime",
			OffsetMinutes: -60,
		},
		Actions:  []domain.Action{{Type: domain.ActionSendSMS, Config: map[string]any{"message": "See you soon"}}},
		IsActive: true,
	})
	require.NoError(t, err)
	f.rule = rule

	f.sched = schedule.New(f.store, f.store, schedule.Config{Batch: 10}, logger.Nop())
	f.sched.SetDispatcher(f.dispatcher)
	f.sched.SetClock(func() time.Time { return f.now })
	return f
}

func appointmentEvent(t domain.EventType, startTime time.Time) domain.Event {
	return domain.NewEvent(t, "loc-1", "appt-1", map[string]any{
		"appointment": map[string]any{"id": "appt-1", "startTime": startTime.Format(time.RFC3339)},
		"contact":     map[string]any{"firstName": "Ada"},
	})
}

func appointmentEventAt(t domain.EventType, startTime, occurredAt time.Time) domain.Event {
	evt := appointmentEvent(t, startTime)
	evt.OccurredAt = occurredAt
	return evt
}

func (f *fixture) pending(t *testing.T) []domain.ScheduledTrigger {
	t.Helper()
	triggers, err := f.store.ListTriggers(context.Background(), schedule.TriggerFilter{EntityID: "appt-1", Pending: true})
	require.NoError(t, err)
	return triggers
}

func TestPlanCreatesTriggerAtOffset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.HandleEvent(context.Background(), appointmentEvent(domain.EventAppointmentScheduled, start)))

	pending := f.pending(t)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].FireAt.Equal(start.Add(-time.Hour)))
	assert.Equal(t, int64(1), pending[0].AnchorVersion)
	assert.Equal(t, f.rule.ID, pending[0].RuleID)

	// Redelivery of the same event does not duplicate.
	require.NoError(t, f.sched.HandleEvent(context.Background(), appointmentEvent(domain.EventAppointmentScheduled, start)))
	assert.Len(t, f.pending(t), 1)
}

func TestSweepFiresDueTriggerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEvent(domain.EventAppointmentScheduled, start)))

	f.now = start.Add(-2 * time.Hour)
	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	f.now = start.Add(-time.Hour)
	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Equal(t, 1, f.dispatcher.count())
	evt := f.dispatcher.events[0]
	assert.Equal(t, domain.EventTimeDue, evt.Type)
	assert.Equal(t, "appointment", evt.EntityType)
	require.NotNil(t, evt.TargetRuleID)
	assert.Equal(t, f.rule.ID, *evt.TargetRuleID)
	trigger, ok := evt.Data["trigger"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(-60), trigger["offsetMinutes"])
	assert.Equal(t, "Ada", evt.Data["contact"].(map[string]any)["firstName"])
	assert.Equal(t, trigger["id"], evt.OccurrenceKey)
}

func TestRescheduleSupersedesPendingTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEvent(domain.EventAppointmentScheduled, start)))

	moved := start.Add(24 * time.Hour)
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEvent(domain.EventAppointmentRescheduled, moved)))

	pending := f.pending(t)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].AnchorVersion)
	assert.True(t, pending[0].FireAt.Equal(moved.Add(-time.Hour)))

	f.now = start
	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "old reminder must not fire")

	f.now = moved
	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedeliveredBookingDoesNotRevertReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	booked := appointmentEventAt(domain.EventAppointmentScheduled, start, f.now)
	moved := start.Add(6 * time.Hour)
	require.NoError(t, f.sched.HandleEvent(ctx, booked))
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEventAt(domain.EventAppointmentRescheduled, moved, f.now.Add(time.Minute))))

	require.NoError(t, f.sched.HandleEvent(ctx, booked))

	pending := f.pending(t)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].FireAt.Equal(moved.Add(-time.Hour)))
	assert.Equal(t, int64(2), pending[0].AnchorVersion)

	f.now = start.Add(-time.Hour)
	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the original reminder time is gone")

	f.now = moved.Add(-time.Hour)
	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedeliveredBookingAfterCancelPlansNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	booked := appointmentEventAt(domain.EventAppointmentScheduled, start, f.now)
	require.NoError(t, f.sched.HandleEvent(ctx, booked))
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEventAt(domain.EventAppointmentCancelled, start, f.now.Add(time.Minute))))

	require.NoError(t, f.sched.HandleEvent(ctx, booked))
	assert.Empty(t, f.pending(t))

	f.now = start
	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.dispatcher.count())
}

func TestLateCancelDoesNotClearNewerBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEventAt(domain.EventAppointmentScheduled, start, f.now.Add(time.Minute))))
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEventAt(domain.EventAppointmentCancelled, start, f.now)))

	assert.Len(t, f.pending(t), 1)
}

func TestCancelClearsPendingTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEvent(domain.EventAppointmentScheduled, start)))
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEvent(domain.EventAppointmentCancelled, start)))

	assert.Empty(t, f.pending(t))

	f.now = start
	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Booking the same slot again plans a fresh trigger.
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEvent(domain.EventAppointmentScheduled, start.Add(48*time.Hour))))
	assert.Len(t, f.pending(t), 1)
}

func TestStaleTriggerIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEvent(domain.EventAppointmentScheduled, start)))

	// The anchor moves without the planner seeing it.
	_, _, err := f.store.UpsertAnchor(ctx, domain.AnchorKey{LocationID: "loc-1", EntityID: "appt-1", Field: "appointment.startTime"}, start.Add(time.Hour), time.Now())
	require.NoError(t, err)

	f.now = start
	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.dispatcher.count())
	assert.Empty(t, f.pending(t))
}

func TestDispatchFailureReleasesTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEvent(domain.EventAppointmentScheduled, start)))

	f.now = start
	f.dispatcher.fail = errors.New("queue unavailable")
	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.pending(t), 1, "released for the next sweep")

	f.dispatcher.fail = nil
	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFireOneIgnoresEarlyWakeup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.HandleEvent(ctx, appointmentEvent(domain.EventAppointmentScheduled, start)))
	id := f.pending(t)[0].ID

	require.NoError(t, f.sched.FireOne(ctx, id))
	assert.Zero(t, f.dispatcher.count())

	f.now = start
	require.NoError(t, f.sched.FireOne(ctx, id))
	require.NoError(t, f.sched.FireOne(ctx, id))
	assert.Equal(t, 1, f.dispatcher.count())
}

type missedCounter struct {
	missed int
}

func (m *missedCounter) TriggerPlanned()                   {}
func (m *missedCounter) TriggerFired()                     {}
func (m *missedCounter) TriggerCancelled(int)              {}
func (m *missedCounter) TriggerMissed()                    { m.missed++ }
func (m *missedCounter) StaleAnchor()                      {}
func (m *missedCounter) SweepCompleted(time.Duration, int) {}

func TestPastTriggerIsNotPlanned(t *testing.T) {
	f := newFixture(t)
	m := &missedCounter{}
	f.sched.SetMetrics(m)
	f.now = start
	require.NoError(t, f.sched.HandleEvent(context.Background(), appointmentEvent(domain.EventAppointmentScheduled, start.Add(10*time.Minute))))
	assert.Empty(t, f.pending(t))
	assert.Equal(t, 1, m.missed)
}

func TestRecurringCollapsesMissedRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule, err := f.store.CreateRule(ctx, domain.Rule{
		ID:         uuid.New(),
		LocationID: "loc-1",
		Name:       "daily brief",
		Trigger:    domain.Trigger{Type: domain.TriggerRecurringSchedule, Schedule: "0 7 * * *", Timezone: "UTC"},
		Actions:    []domain.Action{{Type: domain.ActionSendDailyBrief}},
		IsActive:   true,
	})
	require.NoError(t, err)

	f.now = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	n, err := f.sched.SweepRecurring(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "first sight only sets the cursor")

	f.now = time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	n, err = f.sched.SweepRecurring(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.sched.SweepRecurring(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Equal(t, 1, f.dispatcher.count())
	tick := f.dispatcher.events[0]
	assert.Equal(t, domain.EventScheduleTick, tick.Type)
	assert.Equal(t, rule.ID.String(), tick.EntityID)
	sched := tick.Data["schedule"].(map[string]any)
	assert.Equal(t, "2026-03-02T07:00:00Z", sched["runAt"])
	assert.Equal(t, "2026-03-06T07:00:00Z", sched["nextRunAt"])

	cursor, err := f.store.GetRecurringCursor(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, cursor.NextRunAt.Equal(time.Date(2026, 3, 6, 7, 0, 0, 0, time.UTC)))
}
