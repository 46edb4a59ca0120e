package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a normalised domain occurrence.
type EventType string

const (
	EventQuoteSigned            EventType = "quote.signed"
	EventQuoteViewed            EventType = "quote.viewed"
	EventQuoteSent              EventType = "quote.sent"
	EventQuoteDeclined          EventType = "quote.declined"
	EventContactTagged          EventType = "contact.tagged"
	EventStageEntered           EventType = "stage.entered"
	EventAppointmentScheduled   EventType = "appointment.scheduled"
	EventAppointmentRescheduled EventType = "appointment.rescheduled"
	EventAppointmentCancelled   EventType = "appointment.cancelled"
	EventAppointmentCompleted   EventType = "appointment.completed"
	EventSMSReceived            EventType = "sms.received"
	EventPaymentReceived        EventType = "payment.received"

	// Synthetic events produced by the scheduler.
	EventTimeDue      EventType = "time.due"
	EventScheduleTick EventType = "schedule.tick"
)

var eventFamilies = map[EventType]struct {
	trigger TriggerType
	subType string
}{
	EventQuoteSigned:            {TriggerQuoteEvent, "signed"},
	EventQuoteViewed:            {TriggerQuoteEvent, "viewed"},
	EventQuoteSent:              {TriggerQuoteEvent, "sent"},
	EventQuoteDeclined:          {TriggerQuoteEvent, "declined"},
	EventContactTagged:          {TriggerContactEvent, "tagged"},
	EventStageEntered:           {TriggerStageEntered, ""},
	EventAppointmentScheduled:   {TriggerAppointmentEvent, "scheduled"},
	EventAppointmentRescheduled: {TriggerAppointmentEvent, "rescheduled"},
	EventAppointmentCancelled:   {TriggerAppointmentEvent, "cancelled"},
	EventAppointmentCompleted:   {TriggerAppointmentEvent, "completed"},
	EventSMSReceived:            {TriggerSMSReceived, ""},
	EventPaymentReceived:        {TriggerPaymentReceived, ""},
	EventTimeDue:                {TriggerTimeBased, ""},
	EventScheduleTick:           {TriggerRecurringSchedule, ""},
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := eventFamilies[t]
	return ok
}

// Family returns the trigger family and sub-type an event type maps to.
func (t EventType) Family() (TriggerType, string, bool) {
	f, ok := eventFamilies[t]
	return f.trigger, f.subType, ok
}

// EntityType returns the entity kind an event type describes.
func (t EventType) EntityType() string {
	prefix, _, _ := strings.Cut(string(t), ".")
	switch prefix {
	case "sms":
		return "message"
	case "stage":
		return "project"
	}
	return prefix
}

// rescheduleEvents lists events that move an existing anchor. A time-based rule
// anchored on the key is re-planned when one of the values arrives.
var rescheduleEvents = map[EventType][]EventType{
	EventAppointmentScheduled: {EventAppointmentRescheduled},
	EventQuoteSent:            {EventQuoteSent},
}

// cancelEvents lists events that cancel unfired triggers anchored on the key.
var cancelEvents = map[EventType][]EventType{
	EventAppointmentScheduled: {EventAppointmentCancelled},
	EventQuoteSent:            {EventQuoteSigned, EventQuoteDeclined},
	EventQuoteViewed:          {EventQuoteSigned, EventQuoteDeclined},
}

// PlansAnchor reports whether an event of type t establishes or moves the anchor of
// time-based rules anchored on anchorEvent.
func PlansAnchor(anchorEvent, t EventType) bool {
	if anchorEvent == t {
		return true
	}
	for _, r := range rescheduleEvents[anchorEvent] {
		if r == t {
			return true
		}
	}
	return false
}

// CancelsAnchor reports whether an event of type t cancels triggers anchored on anchorEvent.
func CancelsAnchor(anchorEvent, t EventType) bool {
	for _, c := range cancelEvents[anchorEvent] {
		if c == t {
			return true
		}
	}
	return false
}

// Event is a normalised occurrence. Data carries denormalised snapshots (contact, quote,
// appointment, project, message, payment) so matching and templating need no store reads.
type Event struct {
	ID         uuid.UUID      `json:"id" bson:"id"`
	Type       EventType      `json:"type" bson:"type"`
	EntityType string         `json:"entityType" bson:"entityType"`
	EntityID   string         `json:"entityId" bson:"entityId"`
	LocationID string         `json:"locationId" bson:"locationId"`
	OccurredAt time.Time      `json:"occurredAt" bson:"occurredAt"`
	Data       map[string]any `json:"data" bson:"data"`

	// OccurrenceKey separates sequential occurrences of the same type on one entity.
	// Defaults to ID.
	OccurrenceKey string `json:"occurrenceKey" bson:"occurrenceKey"`

	// TargetRuleID pins synthetic scheduler events to the rule that planned them.
	TargetRuleID *uuid.UUID `json:"targetRuleId,omitempty" bson:"targetRuleId,omitempty"`
}

// NewEvent builds an event with generated identity and timestamps.
func NewEvent(t EventType, locationID, entityID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	id := uuid.New()
	return Event{
		ID:            id,
		Type:          t,
		EntityType:    t.EntityType(),
		EntityID:      entityID,
		LocationID:    locationID,
		OccurredAt:    time.Now().UTC(),
		Data:          data,
		OccurrenceKey: id.String(),
	}
}

// Occurrence returns the key identifying this occurrence for deduplication.
func (e Event) Occurrence() string {
	if e.OccurrenceKey != "" {
		return e.OccurrenceKey
	}
	return e.ID.String()
}

// Fingerprint is the deterministic identity of one (tenant, rule, entity, occurrence).
func Fingerprint(locationID string, ruleID uuid.UUID, entityID, occurrence string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{locationID, ruleID.String(), entityID, occurrence}, "|")))
	return hex.EncodeToString(sum[:])
}

// MessageFingerprint identifies one outbound message so retries of the same queue item
// do not resend it.
func MessageFingerprint(queueFingerprint string, actionPath string, recipient, body string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{queueFingerprint, actionPath, recipient, body}, "|")))
	return "msg:" + hex.EncodeToString(sum[:])
}
