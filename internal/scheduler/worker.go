package scheduler

import (
	"context"
	"fmt"

	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TriggerFirer fires one scheduled trigger when it is due.
type TriggerFirer interface {
	FireOne(ctx context.Context, id uuid.UUID) error
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	firer  TriggerFirer
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, firer TriggerFirer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(firer, log)
	w.server = server
	return w, nil
}

func newWorker(firer TriggerFirer, log *logger.Logger) *Worker {
	w := &Worker{
		mux:   asynq.NewServeMux(),
		firer: firer,
		log:   log,
	}
	w.mux.HandleFunc(TaskTriggerWakeup, w.handleTriggerWakeup)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleTriggerWakeup(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseTriggerWakeupPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	triggerID, err := uuid.Parse(payload.TriggerID)
	if err != nil {
		return fmt.Errorf("%w: invalid trigger id %q", asynq.SkipRetry, payload.TriggerID)
	}

	if err := w.firer.FireOne(ctx, triggerID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			w.log.WithLocation(payload.LocationID).Info("wake-up for missing trigger ignored", "triggerId", payload.TriggerID)
			return nil
		}
		return err
	}
	return nil
}
