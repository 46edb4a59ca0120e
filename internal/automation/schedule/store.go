package schedule

import (
	"context"
	"time"

	"fieldservice_backend/internal/automation/domain"

	"github.com/google/uuid"
)

// Store persists anchors, planned triggers and recurring cursors. Each method is a
// single atomic operation.
type Store interface {
	// UpsertAnchor records the anchor time t carried by an event that occurred at eventAt.
	// The version starts at 1 and increases only when the stored time differs from t.
	// When the stored anchor was written by a later event nothing changes and the stored
	// anchor is returned with applied false.
	UpsertAnchor(ctx context.Context, key domain.AnchorKey, t, eventAt time.Time) (anchor domain.Anchor, applied bool, err error)
	// InvalidateAnchor clears the time and bumps the version so pending triggers go stale.
	// It follows the same event ordering as UpsertAnchor.
	InvalidateAnchor(ctx context.Context, key domain.AnchorKey, eventAt time.Time) (anchor domain.Anchor, applied bool, err error)
	// GetAnchor returns nil when no anchor exists.
	GetAnchor(ctx context.Context, key domain.AnchorKey) (*domain.Anchor, error)

	// InsertTrigger is idempotent on (rule, entity, anchor version); it reports false when
	// the trigger already existed.
	InsertTrigger(ctx context.Context, t domain.ScheduledTrigger) (bool, error)
	// CancelTriggers marks unfired triggers for the anchor key with a version below
	// beforeVersion as fired and cancelled.
	CancelTriggers(ctx context.Context, key domain.AnchorKey, beforeVersion int64, now time.Time) (int, error)
	ListDueTriggers(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error)
	// MarkTriggerFired sets fired when it is unset and reports whether this call set it.
	MarkTriggerFired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// ReleaseTrigger clears fired so a later sweep retries dispatch.
	ReleaseTrigger(ctx context.Context, id uuid.UUID) error
	GetTrigger(ctx context.Context, id uuid.UUID) (*domain.ScheduledTrigger, error)
	ListTriggers(ctx context.Context, filter TriggerFilter) ([]domain.ScheduledTrigger, error)

	// GetRecurringCursor returns nil for rules that never ran.
	GetRecurringCursor(ctx context.Context, ruleID uuid.UUID) (*domain.RecurringCursor, error)
	// AdvanceRecurringCursor moves the cursor from expected to next. A nil expected creates
	// the cursor. It reports false when another process advanced it first.
	AdvanceRecurringCursor(ctx context.Context, ruleID uuid.UUID, expected *time.Time, next time.Time) (bool, error)
}

// TriggerFilter narrows trigger listings.
type TriggerFilter struct {
	LocationID string
	EntityID   string
	RuleID     *uuid.UUID
	Pending    bool
	Limit      int
}

// RuleSource lists the rules the scheduler plans for.
type RuleSource interface {
	ListActiveRules(ctx context.Context, locationID string, trigger domain.TriggerType) ([]domain.Rule, error)
	ListActiveRulesByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Rule, error)
}

// Dispatcher routes synthetic events into matching and enqueueing.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt domain.Event) error
}

// WakeupScheduler requests a sweep of one trigger at runAt. Delivery is best effort;
// the periodic sweep is authoritative.
type WakeupScheduler interface {
	ScheduleTriggerWakeup(ctx context.Context, triggerID uuid.UUID, locationID string, runAt time.Time) error
}

// Metrics receives scheduler observations.
type Metrics interface {
	TriggerPlanned()
	TriggerFired()
	TriggerCancelled(n int)
	// TriggerMissed counts triggers not planned because their fire time had passed.
	TriggerMissed()
	StaleAnchor()
	SweepCompleted(duration time.Duration, fired int)
}

type noopMetrics struct{}

func (noopMetrics) TriggerPlanned()                   {}
func (noopMetrics) TriggerFired()                     {}
func (noopMetrics) TriggerCancelled(int)              {}
func (noopMetrics) TriggerMissed()                    {}
func (noopMetrics) StaleAnchor()                      {}
func (noopMetrics) SweepCompleted(time.Duration, int) {}
