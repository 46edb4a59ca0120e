// Package events defines the business events that feed automation: quote,
// contact, pipeline, appointment, messaging and payment facts, each carrying
// the denormalised snapshots rules match and render against. The bus itself
// lives in platform/events.
package events

import (
	"time"

	"fieldservice_backend/platform/events"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Shared snapshots
// =============================================================================

// ContactSnapshot is the denormalised contact carried on every event that has one.
type ContactSnapshot struct {
	ID         string   `json:"id"`
	FirstName  string   `json:"firstName"`
	LastName   string   `json:"lastName"`
	Email      string   `json:"email,omitempty"`
	Phone      string   `json:"phone,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	AssignedTo string   `json:"assignedTo,omitempty"`
	Address    string   `json:"address,omitempty"`
}

// QuoteLine is one priced line of a quote.
type QuoteLine struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Amount      float64 `json:"amount"`
}

// QuoteSnapshot is the quote state at the time of the event.
type QuoteSnapshot struct {
	ID        string      `json:"id"`
	Number    string      `json:"number,omitempty"`
	Title     string      `json:"title,omitempty"`
	Total     float64     `json:"total"`
	Status    string      `json:"status"`
	ProjectID string      `json:"projectId,omitempty"`
	SignURL   string      `json:"signUrl,omitempty"`
	Terms     string      `json:"terms,omitempty"`
	LineItems []QuoteLine `json:"lineItems,omitempty"`
}

// AppointmentSnapshot is the appointment state at the time of the event.
type AppointmentSnapshot struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	CalendarID     string    `json:"calendarId,omitempty"`
	ProjectID      string    `json:"projectId,omitempty"`
	AssignedUserID string    `json:"assignedUserId,omitempty"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	Address        string    `json:"address,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	Status         string    `json:"status,omitempty"`
}

// ProjectSnapshot is the project (opportunity) state at the time of the event.
type ProjectSnapshot struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	PipelineID string  `json:"pipelineId,omitempty"`
	StageID    string  `json:"stageId"`
	Value      float64 `json:"value,omitempty"`
}

// =============================================================================
// Quote Domain Events
// =============================================================================

// QuoteSent is published when a quote is delivered to the customer.
type QuoteSent struct {
	BaseEvent
	LocationID string          `json:"locationId"`
	Quote      QuoteSnapshot   `json:"quote"`
	Contact    ContactSnapshot `json:"contact"`
	SentAt     time.Time       `json:"sentAt"`
}

func (e QuoteSent) EventName() string { return "quotes.quote.sent" }

// QuoteViewed is published when the customer opens the public quote page.
type QuoteViewed struct {
	BaseEvent
	LocationID string          `json:"locationId"`
	Quote      QuoteSnapshot   `json:"quote"`
	Contact    ContactSnapshot `json:"contact"`
	ViewerIP   string          `json:"viewerIp,omitempty"`
}

func (e QuoteViewed) EventName() string { return "quotes.quote.viewed" }

// QuoteSigned is published when the customer signs a quote.
type QuoteSigned struct {
	BaseEvent
	LocationID    string          `json:"locationId"`
	Quote         QuoteSnapshot   `json:"quote"`
	Contact       ContactSnapshot `json:"contact"`
	SignatureName string          `json:"signatureName"`
	SignedAt      time.Time       `json:"signedAt"`
}

func (e QuoteSigned) EventName() string { return "quotes.quote.signed" }

// QuoteDeclined is published when the customer declines a quote.
type QuoteDeclined struct {
	BaseEvent
	LocationID string          `json:"locationId"`
	Quote      QuoteSnapshot   `json:"quote"`
	Contact    ContactSnapshot `json:"contact"`
	Reason     string          `json:"reason,omitempty"`
}

func (e QuoteDeclined) EventName() string { return "quotes.quote.declined" }

// =============================================================================
// Contact & Pipeline Domain Events
// =============================================================================

// ContactTagged is published when a tag is added to a contact.
type ContactTagged struct {
	BaseEvent
	LocationID string          `json:"locationId"`
	Contact    ContactSnapshot `json:"contact"`
	Tag        string          `json:"tag"`
}

func (e ContactTagged) EventName() string { return "contacts.contact.tagged" }

// ProjectStageEntered is published when a project moves into a pipeline stage.
type ProjectStageEntered struct {
	BaseEvent
	LocationID    string          `json:"locationId"`
	Project       ProjectSnapshot `json:"project"`
	Contact       ContactSnapshot `json:"contact"`
	PreviousStage string          `json:"previousStageId,omitempty"`
}

func (e ProjectStageEntered) EventName() string { return "projects.stage.entered" }

// =============================================================================
// Appointment Domain Events
// =============================================================================

// AppointmentChanged carries every appointment lifecycle transition. Kind is one of
// scheduled, rescheduled, cancelled or completed.
type AppointmentChanged struct {
	BaseEvent
	LocationID  string              `json:"locationId"`
	Kind        string              `json:"kind"`
	Appointment AppointmentSnapshot `json:"appointment"`
	Contact     ContactSnapshot     `json:"contact"`
	// PreviousStartTime is set on reschedules.
	PreviousStartTime *time.Time `json:"previousStartTime,omitempty"`
}

const (
	AppointmentScheduled   = "scheduled"
	AppointmentRescheduled = "rescheduled"
	AppointmentCancelled   = "cancelled"
	AppointmentCompleted   = "completed"
)

func (e AppointmentChanged) EventName() string { return "appointments.appointment.changed" }

// =============================================================================
// Messaging & Payment Domain Events
// =============================================================================

// SMSReceived is published for each inbound SMS or WhatsApp message.
type SMSReceived struct {
	BaseEvent
	LocationID string          `json:"locationId"`
	MessageID  string          `json:"messageId"`
	Channel    string          `json:"channel"`
	From       string          `json:"from"`
	Body       string          `json:"body"`
	Contact    ContactSnapshot `json:"contact"`
}

func (e SMSReceived) EventName() string { return "messaging.sms.received" }

// PaymentReceived is published when a payment settles.
type PaymentReceived struct {
	BaseEvent
	LocationID string          `json:"locationId"`
	PaymentID  string          `json:"paymentId"`
	InvoiceID  string          `json:"invoiceId,omitempty"`
	QuoteID    string          `json:"quoteId,omitempty"`
	Amount     float64         `json:"amount"`
	Currency   string          `json:"currency"`
	Method     string          `json:"method,omitempty"`
	Contact    ContactSnapshot `json:"contact"`
}

func (e PaymentReceived) EventName() string { return "payments.payment.received" }
