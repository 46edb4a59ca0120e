package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/events"

	"github.com/google/uuid"
)

// Emitter accepts normalised automation events.
type Emitter interface {
	Emit(ctx context.Context, evt domain.Event)
}

// SubscribeSources forwards every automation-relevant bus event to the emitter.
func SubscribeSources(bus events.Bus, emitter Emitter) {
	handler := events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		evt, ok, err := FromBusEvent(e)
		if err != nil {
			return err
		}
		if ok {
			emitter.Emit(ctx, evt)
		}
		return nil
	})
	for _, name := range []string{
		events.QuoteSent{}.EventName(),
		events.QuoteViewed{}.EventName(),
		events.QuoteSigned{}.EventName(),
		events.QuoteDeclined{}.EventName(),
		events.ContactTagged{}.EventName(),
		events.ProjectStageEntered{}.EventName(),
		events.AppointmentChanged{}.EventName(),
		events.SMSReceived{}.EventName(),
		events.PaymentReceived{}.EventName(),
	} {
		bus.Subscribe(name, handler)
	}
}

// FromBusEvent maps a domain bus event onto an automation event. ok is false for
// events the engine does not react to. The bus event ID becomes the automation
// event ID, so a redelivered publication resolves to the same occurrence.
func FromBusEvent(e events.Event) (evt domain.Event, ok bool, err error) {
	switch v := e.(type) {
	case events.QuoteSent:
		evt, err = build(domain.EventQuoteSent, v.LocationID, v.Quote.ID, v.OccurredAt(), map[string]any{
			"quote": v.Quote, "contact": v.Contact, "sentAt": v.SentAt,
		})
	case events.QuoteViewed:
		evt, err = build(domain.EventQuoteViewed, v.LocationID, v.Quote.ID, v.OccurredAt(), map[string]any{
			"quote": v.Quote, "contact": v.Contact,
		})
	case events.QuoteSigned:
		evt, err = build(domain.EventQuoteSigned, v.LocationID, v.Quote.ID, v.OccurredAt(), map[string]any{
			"quote": v.Quote, "contact": v.Contact, "signatureName": v.SignatureName, "signedAt": v.SignedAt,
		})
		// A quote is signed once; redelivery must not re-run its rules.
		evt.OccurrenceKey = "signed"
	case events.QuoteDeclined:
		evt, err = build(domain.EventQuoteDeclined, v.LocationID, v.Quote.ID, v.OccurredAt(), map[string]any{
			"quote": v.Quote, "contact": v.Contact, "reason": v.Reason,
		})
		evt.OccurrenceKey = "declined"
	case events.ContactTagged:
		evt, err = build(domain.EventContactTagged, v.LocationID, v.Contact.ID, v.OccurredAt(), map[string]any{
			"contact": v.Contact, "tag": v.Tag,
		})
	case events.ProjectStageEntered:
		evt, err = build(domain.EventStageEntered, v.LocationID, v.Project.ID, v.OccurredAt(), map[string]any{
			"project":    v.Project,
			"contact":    v.Contact,
			"stage":      map[string]any{"id": v.Project.StageID, "previousId": v.PreviousStage},
			"pipelineId": v.Project.PipelineID,
		})
	case events.AppointmentChanged:
		t, known := appointmentTypes[v.Kind]
		if !known {
			return domain.Event{}, false, fmt.Errorf("unknown appointment change %q", v.Kind)
		}
		data := map[string]any{"appointment": v.Appointment, "contact": v.Contact}
		if v.PreviousStartTime != nil {
			data["previousStartTime"] = *v.PreviousStartTime
		}
		evt, err = build(t, v.LocationID, v.Appointment.ID, v.OccurredAt(), data)
		evt.OccurrenceKey = v.Kind + ":" + strconv.FormatInt(v.Appointment.StartTime.Unix(), 10)
	case events.SMSReceived:
		evt, err = build(domain.EventSMSReceived, v.LocationID, v.MessageID, v.OccurredAt(), map[string]any{
			"message": map[string]any{"id": v.MessageID, "body": v.Body, "from": v.From, "channel": v.Channel},
			"contact": v.Contact,
		})
		evt.OccurrenceKey = v.MessageID
	case events.PaymentReceived:
		evt, err = build(domain.EventPaymentReceived, v.LocationID, v.PaymentID, v.OccurredAt(), map[string]any{
			"payment": map[string]any{
				"id": v.PaymentID, "invoiceId": v.InvoiceID, "quoteId": v.QuoteID,
				"amount": v.Amount, "currency": v.Currency, "method": v.Method,
			},
			"contact": v.Contact,
		})
		evt.OccurrenceKey = v.PaymentID
	default:
		return domain.Event{}, false, nil
	}
	if err != nil {
		return domain.Event{}, false, err
	}
	if id := e.EventID(); id != uuid.Nil {
		if evt.OccurrenceKey == evt.ID.String() {
			evt.OccurrenceKey = id.String()
		}
		evt.ID = id
	}
	return evt, true, nil
}

var appointmentTypes = map[string]domain.EventType{
	events.AppointmentScheduled:   domain.EventAppointmentScheduled,
	events.AppointmentRescheduled: domain.EventAppointmentRescheduled,
	events.AppointmentCancelled:   domain.EventAppointmentCancelled,
	events.AppointmentCompleted:   domain.EventAppointmentCompleted,
}

// build snapshots data through JSON so the event carries plain maps, strings and
// float64 numbers regardless of the source structs.
func build(t domain.EventType, locationID, entityID string, occurredAt time.Time, data map[string]any) (domain.Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return domain.Event{}, fmt.Errorf("snapshot %s: %w", t, err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.Event{}, fmt.Errorf("snapshot %s: %w", t, err)
	}
	evt := domain.NewEvent(t, locationID, entityID, snapshot)
	if !occurredAt.IsZero() {
		evt.OccurredAt = occurredAt.UTC()
	}
	return evt, nil
}
