package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/automation/schedule"
	"fieldservice_backend/internal/automation/store/memory"
	"fieldservice_backend/internal/events"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "+16502530000"

type fakeSMS struct {
	mu   sync.Mutex
	sent []executor.SMSMessage
}

func (f *fakeSMS) SendSMS(_ context.Context, msg executor.SMSMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return "msg-1", nil
}

type stageMove struct{ projectID, stageID string }

type fakeStages struct {
	mu    sync.Mutex
	moves []stageMove
}

func (f *fakeStages) MoveProjectStage(_ context.Context, _, projectID, stageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, stageMove{projectID, stageID})
	return nil
}

type published struct {
	channel, name string
	data          map[string]any
}

type fakeRealtime struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeRealtime) Publish(_ context.Context, channel, name string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{channel, name, data})
	return nil
}

type harness struct {
	module   *Module
	store    *memory.Store
	bus      *events.InMemoryBus
	sms      *fakeSMS
	stages   *fakeStages
	realtime *fakeRealtime
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Nop()
	h := &harness{
		store:    memory.New(),
		bus:      events.NewInMemoryBus(log),
		sms:      &fakeSMS{},
		stages:   &fakeStages{},
		realtime: &fakeRealtime{},
	}
	cfg := &config.Config{
		AutomationMaxAttempts:       3,
		AutomationBackoffBase:       time.Second,
		AutomationBackoffMax:        time.Minute,
		AutomationStaleClaimTimeout: time.Minute,
		AutomationSweepInterval:     time.Second,
		AutomationPollInterval:      time.Second,
		AutomationWorkerConcurrency: 1,
		AutomationClaimBatch:        10,
		PhoneDefaultRegion:          "US",
	}
	m, err := NewModule(cfg, ModuleDeps{
		Store: h.store,
		Collaborators: executor.Deps{
			SMS:      h.sms,
			Stages:   h.stages,
			Realtime: h.realtime,
		},
		Bus: h.bus,
	}, log)
	require.NoError(t, err)
	h.module = m

	_, err = m.Seeder().SeedLocation(context.Background(), "loc-1", map[string]string{"signedStageId": "stage-signed"})
	require.NoError(t, err)
	return h
}

// drain runs the queue until nothing is runnable.
func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n := 0
	for {
		processed, err := h.module.Worker().RunOnce(context.Background(), "test-0")
		require.NoError(t, err)
		if !processed {
			return n
		}
		n++
	}
}

func (h *harness) publish(t *testing.T, e events.Event) {
	t.Helper()
	require.NoError(t, h.bus.PublishSync(context.Background(), e))
	h.module.Engine().Wait()
}

func quoteSigned() events.QuoteSigned {
	return events.QuoteSigned{
		BaseEvent:  events.NewBaseEvent(),
		LocationID: "loc-1",
		Quote: events.QuoteSnapshot{
			ID: "q-1", Number: "Q-1001", Total: 1250, Status: "signed", ProjectID: "proj-7",
		},
		Contact:       events.ContactSnapshot{ID: "c-1", FirstName: "Jane", Phone: testPhone},
		SignatureName: "Jane Doe",
		SignedAt:      time.Now().UTC(),
	}
}

func TestQuoteSignedRunsSeededRuleOnce(t *testing.T) {
	h := newHarness(t)

	h.publish(t, quoteSigned())
	assert.Equal(t, 1, h.drain(t))

	require.Len(t, h.sms.sent, 1)
	assert.Equal(t, testPhone, h.sms.sent[0].To)
	assert.Contains(t, h.sms.sent[0].Body, "Jane")
	assert.Contains(t, h.sms.sent[0].Body, "Q-1001")

	require.Len(t, h.stages.moves, 1)
	assert.Equal(t, stageMove{"proj-7", "stage-signed"}, h.stages.moves[0])

	require.Len(t, h.realtime.msgs, 1)
	assert.Equal(t, "location:loc-1", h.realtime.msgs[0].channel)
	assert.Equal(t, "quote_signed", h.realtime.msgs[0].name)
	assert.Equal(t, "q-1", h.realtime.msgs[0].data["quoteId"])

	// Redelivery of the same signature is the same occurrence.
	h.publish(t, quoteSigned())
	assert.Zero(t, h.drain(t))
	assert.Len(t, h.sms.sent, 1)

	items, err := h.store.ListQueueItems(context.Background(), domain.QueueFilter{LocationID: "loc-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.QueueCompleted, items[0].Status)

	rules, err := h.store.ListRules(context.Background(), domain.RuleFilter{LocationID: "loc-1"})
	require.NoError(t, err)
	for _, r := range rules {
		if r.SeedKey != nil && *r.SeedKey == "quote-signed-thank-you" {
			assert.EqualValues(t, 1, r.ExecutionCount)
			assert.EqualValues(t, 1, r.SuccessCount)
		}
	}
}

func TestOtherTenantEventsMatchNothing(t *testing.T) {
	h := newHarness(t)

	evt := quoteSigned()
	evt.LocationID = "loc-2"
	h.publish(t, evt)

	assert.Zero(t, h.drain(t))
	assert.Empty(t, h.sms.sent)
}

func TestAppointmentScheduledPlansReminders(t *testing.T) {
	h := newHarness(t)
	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Second)

	h.publish(t, events.AppointmentChanged{
		BaseEvent:   events.NewBaseEvent(),
		LocationID:  "loc-1",
		Kind:        events.AppointmentScheduled,
		Appointment: events.AppointmentSnapshot{ID: "appt-1", Title: "Boiler service", StartTime: start, EndTime: start.Add(time.Hour)},
		Contact:     events.ContactSnapshot{ID: "c-1", FirstName: "Jane", Phone: testPhone},
	})

	triggers, err := h.store.ListTriggers(context.Background(), schedule.TriggerFilter{LocationID: "loc-1", EntityID: "appt-1", Pending: true})
	require.NoError(t, err)
	require.Len(t, triggers, 2)

	fireAts := []int64{triggers[0].FireAt.Unix(), triggers[1].FireAt.Unix()}
	assert.ElementsMatch(t, []int64{start.Add(-24 * time.Hour).Unix(), start.Add(-time.Hour).Unix()}, fireAts)

	// Nothing is due yet, so nothing runs.
	assert.Zero(t, h.drain(t))

	h.publish(t, events.AppointmentChanged{
		BaseEvent:   events.NewBaseEvent(),
		LocationID:  "loc-1",
		Kind:        events.AppointmentCancelled,
		Appointment: events.AppointmentSnapshot{ID: "appt-1", StartTime: start},
	})

	triggers, err = h.store.ListTriggers(context.Background(), schedule.TriggerFilter{LocationID: "loc-1", EntityID: "appt-1", Pending: true})
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestEmitSyncRejectsInvalidEvents(t *testing.T) {
	h := newHarness(t)
	engine := h.module.Engine()

	err := engine.EmitSync(context.Background(), domain.Event{Type: "quote.exploded", LocationID: "loc-1", EntityID: "q-1"})
	assert.Error(t, err)

	err = engine.EmitSync(context.Background(), domain.Event{Type: domain.EventQuoteSigned, EntityID: "q-1"})
	assert.Error(t, err)

	err = engine.EmitSync(context.Background(), domain.Event{Type: domain.EventQuoteSigned, LocationID: "loc-1"})
	assert.Error(t, err)
}

func TestProcessSkipsDeactivatedRule(t *testing.T) {
	h := newHarness(t)

	h.publish(t, quoteSigned())
	items, err := h.store.ListQueueItems(context.Background(), domain.QueueFilter{LocationID: "loc-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, h.store.SetRuleActive(context.Background(), "loc-1", items[0].RuleID, false))

	res, err := h.module.Engine().Process(context.Background(), items[0])
	require.NoError(t, err)
	assert.True(t, res.RuleSkipped)
	assert.Empty(t, h.sms.sent)
}
