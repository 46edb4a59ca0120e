package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/events"
	"fieldservice_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(_ context.Context, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

type unrelatedEvent struct{ events.BaseEvent }

func (unrelatedEvent) EventName() string { return "billing.invoice.archived" }

func TestFromBusEventQuoteSigned(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	evt, ok, err := FromBusEvent(events.QuoteSigned{
		BaseEvent:  events.BaseEvent{Timestamp: at},
		LocationID: "loc-1",
		Quote:      events.QuoteSnapshot{ID: "q-1", Total: 99.5, ProjectID: "proj-1"},
		Contact:    events.ContactSnapshot{ID: "c-1", Phone: "+16502530000"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, domain.EventQuoteSigned, evt.Type)
	assert.Equal(t, "loc-1", evt.LocationID)
	assert.Equal(t, "q-1", evt.EntityID)
	assert.Equal(t, "signed", evt.OccurrenceKey)
	assert.Equal(t, at, evt.OccurredAt)

	quote, ok := evt.Data["quote"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "proj-1", quote["projectId"])
	assert.Equal(t, 99.5, quote["total"])
}

func TestFromBusEventAppointmentOccurrenceTracksStartTime(t *testing.T) {
	start := time.Date(2026, 5, 6, 8, 30, 0, 0, time.UTC)
	change := events.AppointmentChanged{
		BaseEvent:   events.NewBaseEvent(),
		LocationID:  "loc-1",
		Kind:        events.AppointmentRescheduled,
		Appointment: events.AppointmentSnapshot{ID: "appt-1", StartTime: start},
	}
	first, ok, err := FromBusEvent(change)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.EventAppointmentRescheduled, first.Type)
	assert.NotContains(t, first.Data, "previousStartTime")

	change.Appointment.StartTime = start.Add(time.Hour)
	prev := start
	change.PreviousStartTime = &prev
	second, _, err := FromBusEvent(change)
	require.NoError(t, err)
	assert.NotEqual(t, first.OccurrenceKey, second.OccurrenceKey)
	assert.Contains(t, second.Data, "previousStartTime")
}

func TestFromBusEventRejectsUnknownAppointmentKind(t *testing.T) {
	_, ok, err := FromBusEvent(events.AppointmentChanged{LocationID: "loc-1", Kind: "teleported"})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFromBusEventIgnoresUnrelatedEvents(t *testing.T) {
	_, ok, err := FromBusEvent(unrelatedEvent{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscribeSourcesForwardsBusEvents(t *testing.T) {
	bus := events.NewInMemoryBus(logger.Nop())
	emitter := &recordingEmitter{}
	SubscribeSources(bus, emitter)

	require.NoError(t, bus.PublishSync(context.Background(), events.SMSReceived{
		BaseEvent:  events.NewBaseEvent(),
		LocationID: "loc-1",
		MessageID:  "m-1",
		Channel:    "sms",
		From:       "+16502530000",
		Body:       "YES",
	}))
	require.NoError(t, bus.PublishSync(context.Background(), unrelatedEvent{}))

	require.Len(t, emitter.events, 1)
	got := emitter.events[0]
	assert.Equal(t, domain.EventSMSReceived, got.Type)
	assert.Equal(t, "m-1", got.OccurrenceKey)
	msg := got.Data["message"].(map[string]any)
	assert.Equal(t, "YES", msg["body"])
}

func TestFromBusEventRedeliveryKeepsOccurrence(t *testing.T) {
	tagged := events.ContactTagged{
		BaseEvent:  events.NewBaseEvent(),
		LocationID: "loc-1",
		Contact:    events.ContactSnapshot{ID: "c-1"},
		Tag:        "vip",
	}

	first, ok, err := FromBusEvent(tagged)
	require.NoError(t, err)
	require.True(t, ok)
	again, _, err := FromBusEvent(tagged)
	require.NoError(t, err)

	assert.Equal(t, tagged.ID, first.ID)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Occurrence(), again.Occurrence())

	other, _, err := FromBusEvent(events.ContactTagged{
		BaseEvent:  events.NewBaseEvent(),
		LocationID: "loc-1",
		Contact:    events.ContactSnapshot{ID: "c-1"},
		Tag:        "vip",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.Occurrence(), other.Occurrence())
}

func TestFromBusEventWithoutIDGetsFreshIdentity(t *testing.T) {
	tagged := events.ContactTagged{LocationID: "loc-1", Contact: events.ContactSnapshot{ID: "c-1"}, Tag: "vip"}

	first, _, err := FromBusEvent(tagged)
	require.NoError(t, err)
	again, _, err := FromBusEvent(tagged)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
}
