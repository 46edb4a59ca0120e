package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// WorkerConfig tunes the pool.
type WorkerConfig struct {
	Concurrency       int
	PollInterval      time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	StaleClaimTimeout time.Duration
	// HeartbeatInterval is how often a running item's claim is refreshed. Defaults to a
	// third of StaleClaimTimeout.
	HeartbeatInterval time.Duration
	// ID prefixes worker identities; defaults to a random value per process.
	ID string
}

// Worker drains the queue with a fixed number of goroutines.
type Worker struct {
	store     Store
	processor Processor
	alerter   DeadLetterAlerter
	metrics   Metrics
	cfg       WorkerConfig
	log       *logger.Logger
	now       func() time.Time
}

// NewWorker builds a worker pool. alerter and metrics may be nil.
func NewWorker(store Store, processor Processor, cfg WorkerConfig, alerter DeadLetterAlerter, metrics Metrics, log *logger.Logger) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if cfg.StaleClaimTimeout <= 0 {
		cfg.StaleClaimTimeout = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.StaleClaimTimeout {
		cfg.HeartbeatInterval = cfg.StaleClaimTimeout / 3
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()[:8]
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Worker{
		store:     store,
		processor: processor,
		alerter:   alerter,
		metrics:   metrics,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled. Items in flight when ctx ends are finished.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("automation worker started", "concurrency", w.cfg.Concurrency, "workerId", w.cfg.ID)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", w.cfg.ID, i)
		g.Go(func() error {
			w.loop(gctx, workerID)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info("automation worker stopped", "workerId", w.cfg.ID)
	return err
}

func (w *Worker) loop(ctx context.Context, workerID string) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Drain while there is work, then back off to the poll interval.
		for ctx.Err() == nil {
			processed, err := w.RunOnce(ctx, workerID)
			if err != nil {
				w.log.Warn("automation queue claim failed", "workerId", workerID, "error", err)
				break
			}
			if !processed {
				break
			}
		}
		timer.Reset(w.cfg.PollInterval)
	}
}

// RunOnce claims and processes a single item as workerID. It reports whether an item was
// processed.
func (w *Worker) RunOnce(ctx context.Context, workerID string) (bool, error) {
	now := w.now().UTC()
	item, err := w.store.ClaimNext(ctx, workerID, now, now.Add(-w.cfg.StaleClaimTimeout))
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	// A claimed item runs to completion even during shutdown; otherwise it waits for
	// the stale timeout before another worker picks it up.
	w.process(context.WithoutCancel(ctx), workerID, *item)
	return true, nil
}

func (w *Worker) process(ctx context.Context, workerID string, item domain.QueueItem) {
	log := w.log.WithLocation(item.LocationID)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeat(hbCtx, workerID, item, log)
	}()
	result, procErr := w.processor.Process(ctx, item)
	stopHeartbeat()
	<-hbDone

	now := w.now().UTC()
	run := domain.RunLog{
		Attempt:    item.Attempts,
		WorkerID:   workerID,
		FinishedAt: now,
		Results:    result.Results,
	}

	var status domain.QueueStatus
	var markErr error
	switch {
	case procErr == nil:
		status = domain.QueueCompleted
		if result.RuleSkipped {
			run.Error = "rule missing or inactive"
		}
		markErr = w.store.MarkCompleted(ctx, item.ID, workerID, run, now)
	case item.Attempts >= item.MaxAttempts:
		status = domain.QueueDeadLettered
		run.Error = procErr.Error()
		markErr = w.store.MarkDeadLettered(ctx, item.ID, workerID, run, now)
		if markErr == nil {
			w.deadLettered(ctx, item, procErr)
		}
	default:
		status = domain.QueueFailed
		run.Error = procErr.Error()
		retryAt := now.Add(Backoff(item.Attempts, w.cfg.BackoffBase, w.cfg.BackoffMax))
		markErr = w.store.MarkRetry(ctx, item.ID, workerID, run, retryAt, now)
		log.Info("automation item scheduled for retry",
			"queueItemId", item.ID.String(),
			"ruleId", item.RuleID.String(),
			"attempt", item.Attempts,
			"maxAttempts", item.MaxAttempts,
			"retryAt", retryAt,
			"error", procErr,
		)
	}

	if markErr != nil {
		if errors.Is(markErr, domain.ErrClaimLost) {
			w.metrics.ClaimLost()
			log.Warn("automation claim lost", "queueItemId", item.ID.String(), "workerId", workerID)
			return
		}
		log.DatabaseError("automation_queue_update", markErr)
		return
	}
	w.metrics.Finished(status)
}

// heartbeat keeps the claim fresh so a long execution is not reclaimed as stale.
func (w *Worker) heartbeat(ctx context.Context, workerID string, item domain.QueueItem, log *logger.Logger) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := w.store.ExtendClaim(ctx, item.ID, workerID, w.now().UTC())
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrClaimLost):
			log.Warn("automation claim lost during execution", "queueItemId", item.ID.String(), "workerId", workerID)
			return
		case ctx.Err() != nil:
			return
		default:
			log.Warn("automation claim heartbeat failed", "queueItemId", item.ID.String(), "error", err)
		}
	}
}

func (w *Worker) deadLettered(ctx context.Context, item domain.QueueItem, cause error) {
	w.metrics.DeadLettered()
	w.log.WithLocation(item.LocationID).QueueItemDeadLettered(item.ID.String(), item.RuleID.String(), item.Attempts, cause.Error())
	if w.alerter != nil {
		w.alerter.DeadLettered(ctx, item, fmt.Errorf("%w: %v", domain.ErrQueueRetryExhausted, cause))
	}
}
