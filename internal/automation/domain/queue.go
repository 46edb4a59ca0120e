package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueuePending      QueueStatus = "pending"
	QueueProcessing   QueueStatus = "processing"
	QueueCompleted    QueueStatus = "completed"
	QueueFailed       QueueStatus = "failed"
	QueueDeadLettered QueueStatus = "dead-lettered"
)

// Terminal reports whether no further transitions happen without operator action.
func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueDeadLettered
}

// Valid reports whether s is a known status.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueCompleted, QueueFailed, QueueDeadLettered:
		return true
	}
	return false
}

// QueueItem is one matched (rule, occurrence) awaiting execution.
type QueueItem struct {
	ID          uuid.UUID   `json:"id" bson:"_id"`
	Fingerprint string      `json:"fingerprint" bson:"fingerprint"`
	LocationID  string      `json:"locationId" bson:"locationId"`
	RuleID      uuid.UUID   `json:"ruleId" bson:"ruleId"`
	EntityID    string      `json:"entityId" bson:"entityId"`
	Event       Event       `json:"trigger" bson:"trigger"`
	Status      QueueStatus `json:"status" bson:"status"`
	Attempts    int         `json:"attempts" bson:"attempts"`
	MaxAttempts int         `json:"maxAttempts" bson:"maxAttempts"`
	AvailableAt time.Time   `json:"availableAt" bson:"availableAt"`
	ClaimedAt   *time.Time  `json:"claimedAt,omitempty" bson:"claimedAt,omitempty"`
	ClaimedBy   *string     `json:"claimedBy,omitempty" bson:"claimedBy,omitempty"`
	LastError   *string     `json:"lastError,omitempty" bson:"lastError,omitempty"`
	CreatedAt   time.Time   `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt" bson:"updatedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty" bson:"completedAt,omitempty"`

	// ActionLog is appended once per finished run.
	ActionLog []RunLog `json:"actionLog,omitempty" bson:"actionLog,omitempty"`
}

// NewQueueItem builds a pending item for a matched rule.
func NewQueueItem(rule *Rule, event Event, maxAttempts int, now time.Time) QueueItem {
	return QueueItem{
		ID:          uuid.New(),
		Fingerprint: Fingerprint(event.LocationID, rule.ID, event.EntityID, event.Occurrence()),
		LocationID:  event.LocationID,
		RuleID:      rule.ID,
		EntityID:    event.EntityID,
		Event:       event,
		Status:      QueuePending,
		MaxAttempts: maxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RunLog records the outcome of one execution attempt of a queue item.
type RunLog struct {
	Attempt    int            `json:"attempt" bson:"attempt"`
	WorkerID   string         `json:"workerId" bson:"workerId"`
	FinishedAt time.Time      `json:"finishedAt" bson:"finishedAt"`
	Results    []ActionResult `json:"results" bson:"results"`
	Error      string         `json:"error,omitempty" bson:"error,omitempty"`
}

// QueueFilter narrows queue listings.
type QueueFilter struct {
	LocationID string
	Status     QueueStatus
	RuleID     *uuid.UUID
	Limit      int
}
