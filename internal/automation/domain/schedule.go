package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduledTrigger is a future firing of a time-based rule for one entity.
type ScheduledTrigger struct {
	ID            uuid.UUID  `json:"id" bson:"_id"`
	LocationID    string     `json:"locationId" bson:"locationId"`
	RuleID        uuid.UUID  `json:"ruleId" bson:"ruleId"`
	EntityID      string     `json:"entityId" bson:"entityId"`
	AnchorEvent   EventType  `json:"anchorEvent" bson:"anchorEvent"`
	AnchorField   string     `json:"anchorField" bson:"anchorField"`
	AnchorTime    time.Time  `json:"anchorTime" bson:"anchorTime"`
	OffsetMinutes int64      `json:"offsetMinutes" bson:"offsetMinutes"`
	FireAt        time.Time  `json:"fireAt" bson:"fireAt"`
	AnchorVersion int64      `json:"anchorVersion" bson:"anchorVersion"`
	Fired         bool       `json:"fired" bson:"fired"`
	Cancelled     bool       `json:"cancelled" bson:"cancelled"`
	FiredAt       *time.Time `json:"firedAt,omitempty" bson:"firedAt,omitempty"`
	Event         Event      `json:"event" bson:"event"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
}

// AnchorKey identifies the live anchor of an entity.
type AnchorKey struct {
	LocationID string
	EntityID   string
	Field      string
}

// Anchor is the live anchor time of an entity; Version increases whenever Time changes.
// EventAt is the occurrence time of the event that last wrote it. Events that occurred
// before EventAt no longer move the anchor.
type Anchor struct {
	Key     AnchorKey
	Time    time.Time
	Version int64
	EventAt time.Time
}

// Supersedes reports whether an event that occurred at eventAt may rewrite the anchor.
func (a Anchor) Supersedes(eventAt time.Time) bool {
	return !eventAt.Before(a.EventAt)
}

// RecurringCursor tracks the next due run of a recurring rule.
type RecurringCursor struct {
	RuleID    uuid.UUID
	NextRunAt time.Time
}
