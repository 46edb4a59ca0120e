// Package events is the in-process bus that carries business events (quotes,
// contacts, appointments, messages, payments) from the modules that produce
// them to the automation sources that react to them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a business fact published on the bus.
type Event interface {
	// EventName is the routing key handlers subscribe to, e.g. "quotes.quote.signed".
	EventName() string
	// EventID identifies one publication. Redelivering the same value must
	// carry the same ID.
	EventID() uuid.UUID
	// OccurredAt is when the fact happened in the producing module, not when
	// it reached the bus.
	OccurredAt() time.Time
}

// BaseEvent is embedded by every concrete event.
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) EventID() uuid.UUID { return e.ID }

func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent stamps a fresh ID and the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{ID: uuid.New(), Timestamp: time.Now().UTC()}
}

// Handler reacts to one published event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans events out to the handlers subscribed to their name.
type Bus interface {
	// Publish delivers in the background; handler errors are logged, not returned.
	Publish(ctx context.Context, event Event)
	// PublishSync runs every handler before returning and joins their errors.
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}
