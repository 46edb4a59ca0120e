// Package queue persists matched (rule, occurrence) pairs and runs them through a
// bounded worker pool with claim, retry and dead-letter handling.
package queue

import (
	"context"
	"time"

	"fieldservice_backend/internal/automation/domain"

	"github.com/google/uuid"
)

// Store is the queue persistence contract. Every state change is a single atomic
// update; completion updates are guarded by owner and status and return
// domain.ErrClaimLost when the worker no longer owns the item.
type Store interface {
	// InsertQueueItem inserts item unless an item with the same fingerprint exists,
	// in which case the existing item is returned with created=false.
	InsertQueueItem(ctx context.Context, item domain.QueueItem) (domain.QueueItem, bool, error)
	// ClaimNext moves one runnable item to processing for workerID and increments its
	// attempts. Runnable means pending or failed with availableAt <= now, or processing
	// with claimedAt < staleBefore. Returns nil when nothing is runnable.
	ClaimNext(ctx context.Context, workerID string, now, staleBefore time.Time) (*domain.QueueItem, error)
	// ExtendClaim refreshes claimedAt while workerID still owns the processing item and
	// returns domain.ErrClaimLost otherwise.
	ExtendClaim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error
	MarkCompleted(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, now time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, availableAt, now time.Time) error
	MarkDeadLettered(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, now time.Time) error
	// Requeue moves a dead-lettered or failed item back to pending with attempts reset.
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error
	GetQueueItem(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)
	ListQueueItems(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error)
}

// Metrics receives queue observations.
type Metrics interface {
	Enqueued(created bool)
	Finished(status domain.QueueStatus)
	DeadLettered()
	ClaimLost()
	Depth(n int)
}

// DeadLetterAlerter is notified when an item exhausts its attempts.
type DeadLetterAlerter interface {
	DeadLettered(ctx context.Context, item domain.QueueItem, cause error)
}

// Processor runs one claimed item. A non-nil error schedules a retry.
type Processor interface {
	Process(ctx context.Context, item domain.QueueItem) (domain.ExecutionResult, error)
}

// Enqueuer creates queue items for matches.
type Enqueuer struct {
	store       Store
	metrics     Metrics
	maxAttempts int
	now         func() time.Time
}

// NewEnqueuer builds an Enqueuer.
func NewEnqueuer(store Store, maxAttempts int, metrics Metrics) *Enqueuer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Enqueuer{store: store, metrics: metrics, maxAttempts: maxAttempts, now: time.Now}
}

// Enqueue persists one item per (tenant, rule, entity, occurrence). Re-delivery of the
// same occurrence returns the existing item with created=false.
func (e *Enqueuer) Enqueue(ctx context.Context, rule *domain.Rule, evt domain.Event) (domain.QueueItem, bool, error) {
	item := domain.NewQueueItem(rule, evt, e.maxAttempts, e.now().UTC())
	stored, created, err := e.store.InsertQueueItem(ctx, item)
	if err != nil {
		return domain.QueueItem{}, false, err
	}
	e.metrics.Enqueued(created)
	return stored, created, nil
}

// Backoff returns base << (attempt-1) capped at maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return maxDelay
	}
	delay := base << (attempt - 1)
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

// NoopMetrics discards observations.
type NoopMetrics struct{}

func (NoopMetrics) Enqueued(bool)               {}
func (NoopMetrics) Finished(domain.QueueStatus) {}
func (NoopMetrics) DeadLettered()               {}
func (NoopMetrics) ClaimLost()                  {}
func (NoopMetrics) Depth(int)                   {}
