// Package automation wires the rule engine: event intake, matching, queueing,
// execution and time-based scheduling.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/automation/matcher"
	"fieldservice_backend/internal/automation/metrics"
	"fieldservice_backend/internal/automation/queue"
	"fieldservice_backend/internal/automation/schedule"
	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
)

// RuleGetter loads the current definition of a queued rule.
type RuleGetter interface {
	GetRule(ctx context.Context, id uuid.UUID) (*domain.Rule, error)
}

// Engine is the entry point for domain events and the processor behind the queue.
type Engine struct {
	matcher   *matcher.Matcher
	enqueuer  *queue.Enqueuer
	executor  *executor.Executor
	rules     RuleGetter
	scheduler *schedule.Scheduler
	metrics   metrics.Sink
	log       *logger.Logger
	wg        sync.WaitGroup
}

// NewEngine assembles an engine. scheduler may be nil when time-based rules are not used.
func NewEngine(m *matcher.Matcher, enq *queue.Enqueuer, exec *executor.Executor, rules RuleGetter, sched *schedule.Scheduler, sink metrics.Sink, log *logger.Logger) *Engine {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Engine{
		matcher:   m,
		enqueuer:  enq,
		executor:  exec,
		rules:     rules,
		scheduler: sched,
		metrics:   sink,
		log:       log,
	}
}

// Emit accepts an event without blocking the caller. Failures are logged and never
// returned; durable state is the queue.
func (e *Engine) Emit(ctx context.Context, evt domain.Event) {
	detached := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("automation emit panic", "eventType", string(evt.Type), "panic", fmt.Sprint(r))
			}
		}()
		if err := e.EmitSync(detached, evt); err != nil {
			e.log.WithLocation(evt.LocationID).Error("automation emit failed",
				"eventType", string(evt.Type),
				"entityId", evt.EntityID,
				"error", err,
			)
		}
	}()
}

// Wait blocks until every Emit in flight has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// EmitSync plans or cancels time-based triggers for the event and enqueues every rule
// it matches.
func (e *Engine) EmitSync(ctx context.Context, evt domain.Event) error {
	evt, err := normalize(evt)
	if err != nil {
		return err
	}
	e.metrics.EventEmitted(string(evt.Type))

	var errs []error
	if e.scheduler != nil {
		if err := e.scheduler.HandleEvent(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %w", err))
		}
	}
	if err := e.Dispatch(ctx, evt); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Dispatch matches evt and enqueues one item per matched rule. The scheduler calls it
// directly for time.due and schedule.tick events.
func (e *Engine) Dispatch(ctx context.Context, evt domain.Event) error {
	matches, matchErrs, err := e.matcher.Match(ctx, evt)
	if err != nil {
		return fmt.Errorf("match %s: %w", evt.Type, err)
	}
	log := e.log.WithLocation(evt.LocationID)
	for _, me := range matchErrs {
		e.metrics.MatchError()
		log.RuleMatchError(me.RuleID.String(), me.Field, string(me.Operator), me.Reason)
	}
	e.metrics.RulesMatched(len(matches))

	var errs []error
	for _, m := range matches {
		item, created, err := e.enqueuer.Enqueue(ctx, m.Rule, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueue rule %s: %w", m.Rule.ID, err))
			continue
		}
		if !created {
			log.Debug("duplicate occurrence ignored", "ruleId", m.Rule.ID.String(), "queueItemId", item.ID.String())
			continue
		}
		log.Info("automation rule queued",
			"ruleId", m.Rule.ID.String(),
			"rule", m.Rule.Name,
			"eventType", string(evt.Type),
			"entityId", evt.EntityID,
			"queueItemId", item.ID.String(),
		)
	}
	return errors.Join(errs...)
}

// Process runs one claimed queue item. Rules deleted or deactivated after queueing are
// skipped without error; the returned error drives the retry policy.
func (e *Engine) Process(ctx context.Context, item domain.QueueItem) (domain.ExecutionResult, error) {
	rule, err := e.rules.GetRule(ctx, item.RuleID)
	if apperr.Is(err, apperr.KindNotFound) || (err == nil && (rule == nil || !rule.IsActive)) {
		e.log.WithLocation(item.LocationID).Info("automation rule gone, item skipped",
			"ruleId", item.RuleID.String(), "queueItemId", item.ID.String())
		return domain.ExecutionResult{RuleID: item.RuleID, RuleSkipped: true}, nil
	}
	if err != nil {
		return domain.ExecutionResult{RuleID: item.RuleID}, fmt.Errorf("load rule: %w", err)
	}

	result := e.executor.Execute(ctx, rule, item.Event)
	e.log.WithLocation(item.LocationID).Info("automation rule executed",
		"ruleId", rule.ID.String(),
		"queueItemId", item.ID.String(),
		"attempt", item.Attempts,
		"summary", result.Summary(),
	)
	return result, result.RetryError()
}

func normalize(evt domain.Event) (domain.Event, error) {
	if !evt.Type.Valid() {
		return evt, apperr.Validation(fmt.Sprintf("unknown event type %q", evt.Type))
	}
	if evt.LocationID == "" {
		return evt, apperr.Validation("locationId is required")
	}
	if evt.EntityID == "" {
		return evt, apperr.Validation("entityId is required")
	}
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if evt.EntityType == "" {
		evt.EntityType = evt.Type.EntityType()
	}
	if evt.Data == nil {
		evt.Data = map[string]any{}
	}
	return evt, nil
}

var _ queue.Processor = (*Engine)(nil)
var _ schedule.Dispatcher = (*Engine)(nil)
