package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/store/memory"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type processorFunc func(ctx context.Context, item domain.QueueItem) (domain.ExecutionResult, error)

func (f processorFunc) Process(ctx context.Context, item domain.QueueItem) (domain.ExecutionResult, error) {
	return f(ctx, item)
}

type recordingMetrics struct {
	NoopMetrics
	mu           sync.Mutex
	finished     []domain.QueueStatus
	deadLettered int
	claimLost    int
}

func (m *recordingMetrics) Finished(s domain.QueueStatus) {
	m.mu.Lock()
	m.finished = append(m.finished, s)
	m.mu.Unlock()
}

func (m *recordingMetrics) DeadLettered() {
	m.mu.Lock()
	m.deadLettered++
	m.mu.Unlock()
}

func (m *recordingMetrics) ClaimLost() {
	m.mu.Lock()
	m.claimLost++
	m.mu.Unlock()
}

type recordingAlerter struct {
	items []domain.QueueItem
	cause error
}

func (a *recordingAlerter) DeadLettered(_ context.Context, item domain.QueueItem, cause error) {
	a.items = append(a.items, item)
	a.cause = cause
}

func testRule() *domain.Rule {
	return &domain.Rule{ID: uuid.New(), LocationID: "loc-1", Name: "welcome"}
}

func enqueue(t *testing.T, store Store, maxAttempts int) domain.QueueItem {
	t.Helper()
	e := NewEnqueuer(store, maxAttempts, nil)
	e.now = func() time.Time { return t0 }
	item, created, err := e.Enqueue(context.Background(), testRule(),
		domain.NewEvent(domain.EventQuoteSigned, "loc-1", "quote-1", nil))
	require.NoError(t, err)
	require.True(t, created)
	return item
}

func newTestWorker(store Store, p Processor, c *clock, alerter DeadLetterAlerter, m Metrics) *Worker {
	w := NewWorker(store, p, WorkerConfig{
		BackoffBase:       time.Minute,
		BackoffMax:        10 * time.Minute,
		StaleClaimTimeout: 5 * time.Minute,
		ID:                "test",
	}, alerter, m, logger.Nop())
	w.now = c.Now
	return w
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{7, 30 * time.Minute},
		{60, 30 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, 30*time.Second, 30*time.Minute), "attempt %d", tt.attempt)
	}
}

func TestEnqueueIsIdempotentPerOccurrence(t *testing.T) {
	store := memory.New()
	e := NewEnqueuer(store, 3, nil)
	rule := testRule()
	evt := domain.NewEvent(domain.EventQuoteSigned, "loc-1", "quote-1", nil)

	first, created, err := e.Enqueue(context.Background(), rule, evt)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := e.Enqueue(context.Background(), rule, evt)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestRunOnceCompletesItem(t *testing.T) {
	store := memory.New()
	item := enqueue(t, store, 3)
	c := &clock{now: t0}
	m := &recordingMetrics{}

	w := newTestWorker(store, processorFunc(func(context.Context, domain.QueueItem) (domain.ExecutionResult, error) {
		return domain.ExecutionResult{Results: []domain.ActionResult{{Index: 0, Type: domain.ActionSendSMS, Outcome: domain.OutcomeSucceeded}}}, nil
	}), c, nil, m)

	processed, err := w.RunOnce(context.Background(), "w-1")
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := store.GetQueueItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.Len(t, got.ActionLog, 1)
	assert.Equal(t, "w-1", got.ActionLog[0].WorkerID)
	assert.Equal(t, []domain.QueueStatus{domain.QueueCompleted}, m.finished)

	processed, err = w.RunOnce(context.Background(), "w-1")
	require.NoError(t, err)
	assert.False(t, processed, "nothing left to claim")
}

func TestRetryThenDeadLetter(t *testing.T) {
	store := memory.New()
	item := enqueue(t, store, 2)
	c := &clock{now: t0}
	m := &recordingMetrics{}
	alerter := &recordingAlerter{}
	boom := errors.New("provider timeout")

	w := newTestWorker(store, processorFunc(func(context.Context, domain.QueueItem) (domain.ExecutionResult, error) {
		return domain.ExecutionResult{}, boom
	}), c, alerter, m)
	ctx := context.Background()

	processed, err := w.RunOnce(ctx, "w-1")
	require.NoError(t, err)
	require.True(t, processed)

	got, err := store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueFailed, got.Status)
	assert.True(t, got.AvailableAt.Equal(t0.Add(time.Minute)))
	require.NotNil(t, got.LastError)
	assert.Equal(t, boom.Error(), *got.LastError)

	processed, err = w.RunOnce(ctx, "w-1")
	require.NoError(t, err)
	assert.False(t, processed, "not runnable before backoff elapses")

	c.Advance(time.Minute)
	processed, err = w.RunOnce(ctx, "w-1")
	require.NoError(t, err)
	require.True(t, processed)

	got, err = store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueDeadLettered, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Len(t, got.ActionLog, 2)
	assert.Equal(t, 1, m.deadLettered)
	require.Len(t, alerter.items, 1)
	assert.ErrorIs(t, alerter.cause, domain.ErrQueueRetryExhausted)

	require.NoError(t, store.Requeue(ctx, item.ID, c.Now()))
	got, err = store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePending, got.Status)
	assert.Equal(t, 0, got.Attempts)
}

func TestStaleClaimIsReclaimedOnce(t *testing.T) {
	store := memory.New()
	item := enqueue(t, store, 3)
	c := &clock{now: t0}
	m := &recordingMetrics{}
	ctx := context.Background()

	// The outbound side effect is guarded by a per-message key, as the executor does.
	var (
		mu    sync.Mutex
		sent  int
		claim = map[string]bool{}
	)
	w := newTestWorker(store, processorFunc(func(_ context.Context, it domain.QueueItem) (domain.ExecutionResult, error) {
		mu.Lock()
		defer mu.Unlock()
		key := domain.MessageFingerprint(it.Fingerprint, "0", "+16502530000", "hello")
		if !claim[key] {
			claim[key] = true
			sent++
		}
		return domain.ExecutionResult{}, nil
	}), c, nil, m)

	// Worker A claims and stalls past the stale timeout.
	stalled, err := store.ClaimNext(ctx, "w-a", c.Now(), c.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, stalled)

	c.Advance(6 * time.Minute)
	processed, err := w.RunOnce(ctx, "w-b")
	require.NoError(t, err)
	require.True(t, processed)

	// Worker A resumes and finishes after losing its claim.
	w.process(ctx, "w-a", *stalled)

	got, err := store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	require.Len(t, got.ActionLog, 1)
	assert.Equal(t, "w-b", got.ActionLog[0].WorkerID)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, m.claimLost)
}

func TestHeartbeatKeepsLongRunningClaim(t *testing.T) {
	store := memory.New()
	item := enqueue(t, store, 3)
	c := &clock{now: t0}
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	w := NewWorker(store, processorFunc(func(context.Context, domain.QueueItem) (domain.ExecutionResult, error) {
		close(started)
		<-release
		return domain.ExecutionResult{}, nil
	}), WorkerConfig{StaleClaimTimeout: 5 * time.Minute, HeartbeatInterval: 5 * time.Millisecond, ID: "test"}, nil, nil, logger.Nop())
	w.now = c.Now

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := w.RunOnce(ctx, "w-a")
		assert.NoError(t, err)
	}()
	<-started

	c.Advance(4 * time.Minute)
	require.Eventually(t, func() bool {
		got, err := store.GetQueueItem(ctx, item.ID)
		return err == nil && got.ClaimedAt != nil && got.ClaimedAt.Equal(t0.Add(4*time.Minute))
	}, time.Second, 5*time.Millisecond)

	// Past the original claim's stale deadline, but the refreshed claim is still live.
	c.Advance(4 * time.Minute)
	stolen, err := store.ClaimNext(ctx, "w-b", c.Now(), c.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, stolen)

	close(release)
	<-done

	got, err := store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.Len(t, got.ActionLog, 1)
	assert.Equal(t, "w-a", got.ActionLog[0].WorkerID)
}

func TestExtendClaimRequiresOwnership(t *testing.T) {
	store := memory.New()
	item := enqueue(t, store, 3)
	ctx := context.Background()

	_, err := store.ClaimNext(ctx, "w-a", t0, t0.Add(-5*time.Minute))
	require.NoError(t, err)

	assert.NoError(t, store.ExtendClaim(ctx, item.ID, "w-a", t0.Add(time.Minute)))
	assert.ErrorIs(t, store.ExtendClaim(ctx, item.ID, "w-b", t0.Add(time.Minute)), domain.ErrClaimLost)
}

func TestRunDrainsAndStopsOnCancel(t *testing.T) {
	store := memory.New()
	for i := 0; i < 5; i++ {
		e := NewEnqueuer(store, 3, nil)
		_, _, err := e.Enqueue(context.Background(), testRule(),
			domain.NewEvent(domain.EventContactTagged, "loc-1", "contact-1", nil))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		done int
	)
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(store, processorFunc(func(context.Context, domain.QueueItem) (domain.ExecutionResult, error) {
		mu.Lock()
		done++
		if done == 5 {
			cancel()
		}
		mu.Unlock()
		return domain.ExecutionResult{}, nil
	}), WorkerConfig{Concurrency: 3, PollInterval: 10 * time.Millisecond}, nil, nil, logger.Nop())

	require.NoError(t, w.Run(ctx))

	items, err := store.ListQueueItems(context.Background(), domain.QueueFilter{Status: domain.QueueCompleted})
	require.NoError(t, err)
	assert.Len(t, items, 5)
}
