package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFirer struct {
	fired []uuid.UUID
	err   error
}

func (f *fakeFirer) FireOne(_ context.Context, id uuid.UUID) error {
	f.fired = append(f.fired, id)
	return f.err
}

type schedulerCfg struct {
	url string
}

func (c schedulerCfg) GetRedisURL() string       { return c.url }
func (c schedulerCfg) GetRedisTLSInsecure() bool { return false }
func (c schedulerCfg) GetAsynqQueueName() string { return "automation" }
func (c schedulerCfg) GetAsynqConcurrency() int  { return 1 }

func TestTriggerWakeupPayloadRoundTrip(t *testing.T) {
	in := TriggerWakeupPayload{TriggerID: uuid.NewString(), LocationID: "loc-1"}
	task, err := NewTriggerWakeupTask(in)
	require.NoError(t, err)
	assert.Equal(t, TaskTriggerWakeup, task.Type())

	out, err := ParseTriggerWakeupPayload(task)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestHandleTriggerWakeupFiresTrigger(t *testing.T) {
	firer := &fakeFirer{}
	w := newWorker(firer, logger.Nop())
	id := uuid.New()

	task, err := NewTriggerWakeupTask(TriggerWakeupPayload{TriggerID: id.String(), LocationID: "loc-1"})
	require.NoError(t, err)

	require.NoError(t, w.handleTriggerWakeup(context.Background(), task))
	assert.Equal(t, []uuid.UUID{id}, firer.fired)
}

func TestHandleTriggerWakeupIgnoresMissingTrigger(t *testing.T) {
	firer := &fakeFirer{err: apperr.NotFound("trigger not found")}
	w := newWorker(firer, logger.Nop())

	task, err := NewTriggerWakeupTask(TriggerWakeupPayload{TriggerID: uuid.NewString(), LocationID: "loc-1"})
	require.NoError(t, err)

	assert.NoError(t, w.handleTriggerWakeup(context.Background(), task))
}

func TestHandleTriggerWakeupPropagatesFailure(t *testing.T) {
	firer := &fakeFirer{err: errors.New("store down")}
	w := newWorker(firer, logger.Nop())

	task, err := NewTriggerWakeupTask(TriggerWakeupPayload{TriggerID: uuid.NewString(), LocationID: "loc-1"})
	require.NoError(t, err)

	assert.EqualError(t, w.handleTriggerWakeup(context.Background(), task), "store down")
}

func TestHandleTriggerWakeupSkipsRetryOnBadPayload(t *testing.T) {
	w := newWorker(&fakeFirer{}, logger.Nop())

	err := w.handleTriggerWakeup(context.Background(), asynq.NewTask(TaskTriggerWakeup, []byte(`{"triggerId":"nope"}`)))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestScheduleTriggerWakeupIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(schedulerCfg{url: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	id := uuid.New()
	runAt := time.Now().Add(time.Hour)
	require.NoError(t, client.ScheduleTriggerWakeup(context.Background(), id, "loc-1", runAt))
	require.NoError(t, client.ScheduleTriggerWakeup(context.Background(), id, "loc-1", runAt))

	scheduled, err := mr.ZMembers("asynq:{automation}:scheduled")
	require.NoError(t, err)
	assert.Equal(t, []string{wakeupTaskID(id.String())}, scheduled)
}

func TestNewClientRequiresRedisURL(t *testing.T) {
	_, err := NewClient(schedulerCfg{})
	assert.Error(t, err)
}

func TestNilClientIsNoop(t *testing.T) {
	var c *Client
	assert.NoError(t, c.ScheduleTriggerWakeup(context.Background(), uuid.New(), "loc-1", time.Now()))
	assert.NoError(t, c.Close())
}
