// Package schedule plans, reschedules and fires time-based and recurring rules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/render"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultSweepInterval = 15 * time.Second
	defaultBatch         = 100
	// pastGrace keeps zero-offset triggers that land a moment before planning.
	pastGrace = time.Minute
)

// Config tunes the scheduler.
type Config struct {
	SweepInterval time.Duration
	Batch         int
}

// Scheduler owns ScheduledTrigger planning and firing.
type Scheduler struct {
	store      Store
	rules      RuleSource
	dispatcher Dispatcher
	wakeups    WakeupScheduler
	metrics    Metrics
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
}

// New builds a scheduler. The dispatcher is set with SetDispatcher once the engine exists.
func New(store Store, rules RuleSource, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Batch < 1 {
		cfg.Batch = defaultBatch
	}
	return &Scheduler{
		store:   store,
		rules:   rules,
		metrics: noopMetrics{},
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// SetDispatcher wires the engine that receives time.due and schedule.tick events.
func (s *Scheduler) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// SetWakeups wires delayed wake-ups. Optional.
func (s *Scheduler) SetWakeups(w WakeupScheduler) { s.wakeups = w }

// SetMetrics wires scheduler metrics. Optional.
func (s *Scheduler) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// HandleEvent cancels and (re)plans time-based triggers for an incoming event.
func (s *Scheduler) HandleEvent(ctx context.Context, evt domain.Event) error {
	if evt.Type == domain.EventTimeDue || evt.Type == domain.EventScheduleTick {
		return nil
	}
	rules, err := s.rules.ListActiveRules(ctx, evt.LocationID, domain.TriggerTimeBased)
	if err != nil {
		return fmt.Errorf("list time-based rules: %w", err)
	}

	var errs []error
	cancelled := map[domain.AnchorKey]bool{}
	for i := range rules {
		rule := &rules[i]
		anchorEvent := rule.Trigger.AnchorEvent
		key := anchorKey(evt, rule)
		switch {
		case domain.CancelsAnchor(anchorEvent, evt.Type):
			if cancelled[key] {
				continue
			}
			cancelled[key] = true
			if err := s.cancelKey(ctx, key, evt.OccurredAt); err != nil {
				errs = append(errs, err)
			}
		case domain.PlansAnchor(anchorEvent, evt.Type):
			if err := s.planRule(ctx, rule, evt); err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Plan persists triggers for every time-based rule anchored on the event type.
func (s *Scheduler) Plan(ctx context.Context, evt domain.Event) error {
	rules, err := s.rules.ListActiveRules(ctx, evt.LocationID, domain.TriggerTimeBased)
	if err != nil {
		return fmt.Errorf("list time-based rules: %w", err)
	}
	var errs []error
	for i := range rules {
		if domain.PlansAnchor(rules[i].Trigger.AnchorEvent, evt.Type) {
			if err := s.planRule(ctx, &rules[i], evt); err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", rules[i].ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) planRule(ctx context.Context, rule *domain.Rule, evt domain.Event) error {
	rctx := render.BuildContext(evt)
	raw, ok := rctx.Lookup(rule.Trigger.Anchor)
	if !ok {
		s.log.Debug("anchor missing from event", "ruleId", rule.ID.String(), "anchor", rule.Trigger.Anchor, "eventType", string(evt.Type))
		return nil
	}
	anchorTime, ok := render.Time(raw)
	if !ok {
		return fmt.Errorf("anchor %s is not a time", rule.Trigger.Anchor)
	}

	key := anchorKey(evt, rule)
	anchor, applied, err := s.store.UpsertAnchor(ctx, key, anchorTime, evt.OccurredAt)
	if err != nil {
		return fmt.Errorf("upsert anchor: %w", err)
	}
	if !applied {
		s.log.Info("anchor event out of order, not planned",
			"ruleId", rule.ID.String(), "entityId", evt.EntityID, "anchor", key.Field,
			"eventAt", evt.OccurredAt, "anchorEventAt", anchor.EventAt)
		return nil
	}
	// Triggers planned against an older anchor time are superseded.
	n, err := s.store.CancelTriggers(ctx, key, anchor.Version, s.now().UTC())
	if err != nil {
		return fmt.Errorf("cancel superseded triggers: %w", err)
	}
	if n > 0 {
		s.metrics.TriggerCancelled(n)
		s.log.Info("superseded triggers cancelled", "entityId", evt.EntityID, "anchor", key.Field, "count", n, "version", anchor.Version)
	}

	now := s.now().UTC()
	fireAt := anchorTime.Add(rule.Trigger.Offset())
	if fireAt.Before(now.Add(-pastGrace)) {
		s.metrics.TriggerMissed()
		s.log.WithLocation(evt.LocationID).Warn("time-based trigger already past, not planned",
			"ruleId", rule.ID.String(), "entityId", evt.EntityID, "fireAt", fireAt, "now", now)
		return nil
	}

	trigger := domain.ScheduledTrigger{
		ID:            uuid.New(),
		LocationID:    evt.LocationID,
		RuleID:        rule.ID,
		EntityID:      evt.EntityID,
		AnchorEvent:   rule.Trigger.AnchorEvent,
		AnchorField:   key.Field,
		AnchorTime:    anchorTime,
		OffsetMinutes: rule.Trigger.OffsetMinutes,
		FireAt:        fireAt,
		AnchorVersion: anchor.Version,
		Event:         evt,
		CreatedAt:     now,
	}
	created, err := s.store.InsertTrigger(ctx, trigger)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	if !created {
		return nil
	}
	s.metrics.TriggerPlanned()

	if s.wakeups != nil {
		if err := s.wakeups.ScheduleTriggerWakeup(ctx, trigger.ID, trigger.LocationID, fireAt); err != nil {
			s.log.Warn("trigger wake-up not scheduled", "triggerId", trigger.ID.String(), "error", err)
		}
	}
	return nil
}

// Cancel cancels unfired triggers of every time-based rule whose anchor the event type
// cancels for the entity.
func (s *Scheduler) Cancel(ctx context.Context, evt domain.Event) error {
	rules, err := s.rules.ListActiveRules(ctx, evt.LocationID, domain.TriggerTimeBased)
	if err != nil {
		return fmt.Errorf("list time-based rules: %w", err)
	}
	done := map[domain.AnchorKey]bool{}
	var errs []error
	for i := range rules {
		if !domain.CancelsAnchor(rules[i].Trigger.AnchorEvent, evt.Type) {
			continue
		}
		key := anchorKey(evt, &rules[i])
		if done[key] {
			continue
		}
		done[key] = true
		if err := s.cancelKey(ctx, key, evt.OccurredAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) cancelKey(ctx context.Context, key domain.AnchorKey, eventAt time.Time) error {
	anchor, applied, err := s.store.InvalidateAnchor(ctx, key, eventAt)
	if err != nil {
		return fmt.Errorf("invalidate anchor: %w", err)
	}
	if !applied {
		s.log.Info("cancel event out of order, ignored",
			"entityId", key.EntityID, "anchor", key.Field, "eventAt", eventAt, "anchorEventAt", anchor.EventAt)
		return nil
	}
	n, err := s.store.CancelTriggers(ctx, key, anchor.Version, s.now().UTC())
	if err != nil {
		return fmt.Errorf("cancel triggers: %w", err)
	}
	if n > 0 {
		s.metrics.TriggerCancelled(n)
		s.log.Info("triggers cancelled", "entityId", key.EntityID, "anchor", key.Field, "count", n)
	}
	return nil
}

// Sweep fires every due trigger in batches and returns the number dispatched.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	fired := 0
	for {
		due, err := s.store.ListDueTriggers(ctx, s.now().UTC(), s.cfg.Batch)
		if err != nil {
			return fired, fmt.Errorf("list due triggers: %w", err)
		}
		if len(due) == 0 {
			return fired, nil
		}
		progressed := false
		for i := range due {
			ok, err := s.fire(ctx, &due[i])
			if err != nil {
				s.log.Warn("trigger dispatch failed", "triggerId", due[i].ID.String(), "error", err)
				continue
			}
			progressed = true
			if ok {
				fired++
			}
		}
		if !progressed || len(due) < s.cfg.Batch {
			return fired, nil
		}
	}
}

// FireOne fires a single trigger if it is due and unfired. Used by delayed wake-ups.
func (s *Scheduler) FireOne(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return err
	}
	if t == nil || t.Fired {
		return nil
	}
	if t.FireAt.After(s.now().UTC()) {
		// Early wake-up; the sweep will pick it up.
		return nil
	}
	_, err = s.fire(ctx, t)
	return err
}

// fire claims the trigger, drops it when its anchor moved, and dispatches time.due.
func (s *Scheduler) fire(ctx context.Context, t *domain.ScheduledTrigger) (bool, error) {
	claimed, err := s.store.MarkTriggerFired(ctx, t.ID, s.now().UTC())
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	live, err := s.store.GetAnchor(ctx, domain.AnchorKey{LocationID: t.LocationID, EntityID: t.EntityID, Field: t.AnchorField})
	if err != nil {
		s.release(ctx, t.ID)
		return false, err
	}
	if live == nil || live.Version != t.AnchorVersion {
		var liveVersion int64
		if live != nil {
			liveVersion = live.Version
		}
		stale := &domain.StaleAnchorError{TriggerID: t.ID, TriggerVersion: t.AnchorVersion, LiveVersion: liveVersion}
		s.metrics.StaleAnchor()
		s.log.WithLocation(t.LocationID).StaleAnchorSkipped(stale.TriggerID.String(), t.EntityID, stale.TriggerVersion, stale.LiveVersion)
		return false, nil
	}

	if s.dispatcher == nil {
		s.release(ctx, t.ID)
		return false, fmt.Errorf("scheduler has no dispatcher")
	}
	if err := s.dispatcher.Dispatch(ctx, DueEvent(t)); err != nil {
		s.release(ctx, t.ID)
		return false, err
	}
	s.metrics.TriggerFired()
	return true, nil
}

func (s *Scheduler) release(ctx context.Context, id uuid.UUID) {
	if err := s.store.ReleaseTrigger(context.WithoutCancel(ctx), id); err != nil {
		s.log.Warn("trigger release failed", "triggerId", id.String(), "error", err)
	}
}

// DueEvent builds the time.due event for a trigger. It carries the anchor event's data,
// is pinned to the planning rule and uses the trigger ID as occurrence key.
func DueEvent(t *domain.ScheduledTrigger) domain.Event {
	data := make(map[string]any, len(t.Event.Data)+1)
	for k, v := range t.Event.Data {
		data[k] = v
	}
	data["trigger"] = map[string]any{
		"id":            t.ID.String(),
		"ruleId":        t.RuleID.String(),
		"anchorEvent":   string(t.AnchorEvent),
		"anchorTime":    t.AnchorTime.UTC().Format(time.RFC3339),
		"offsetMinutes": t.OffsetMinutes,
		"fireAt":        t.FireAt.UTC().Format(time.RFC3339),
	}
	ruleID := t.RuleID
	entityType := t.Event.EntityType
	if entityType == "" {
		entityType = t.AnchorEvent.EntityType()
	}
	return domain.Event{
		ID:            uuid.New(),
		Type:          domain.EventTimeDue,
		EntityType:    entityType,
		EntityID:      t.EntityID,
		LocationID:    t.LocationID,
		OccurredAt:    t.FireAt,
		Data:          data,
		OccurrenceKey: t.ID.String(),
		TargetRuleID:  &ruleID,
	}
}

// SweepRecurring emits schedule.tick for recurring rules whose cursor is due and
// returns the number emitted. Missed runs collapse into one tick.
func (s *Scheduler) SweepRecurring(ctx context.Context) (int, error) {
	rules, err := s.rules.ListActiveRulesByTrigger(ctx, domain.TriggerRecurringSchedule)
	if err != nil {
		return 0, fmt.Errorf("list recurring rules: %w", err)
	}
	now := s.now().UTC()
	emitted := 0
	var errs []error
	for i := range rules {
		ok, err := s.tick(ctx, &rules[i], now)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rules[i].ID, err))
			continue
		}
		if ok {
			emitted++
		}
	}
	return emitted, errors.Join(errs...)
}

func (s *Scheduler) tick(ctx context.Context, rule *domain.Rule, now time.Time) (bool, error) {
	cursor, err := s.store.GetRecurringCursor(ctx, rule.ID)
	if err != nil {
		return false, err
	}
	next, err := rule.Trigger.NextRun(now)
	if err != nil {
		return false, err
	}
	if cursor == nil {
		_, err := s.store.AdvanceRecurringCursor(ctx, rule.ID, nil, next)
		return false, err
	}
	if cursor.NextRunAt.After(now) {
		return false, nil
	}

	runAt := cursor.NextRunAt
	won, err := s.store.AdvanceRecurringCursor(ctx, rule.ID, &runAt, next)
	if err != nil || !won {
		return false, err
	}
	if s.dispatcher == nil {
		return false, fmt.Errorf("scheduler has no dispatcher")
	}

	ruleID := rule.ID
	evt := domain.Event{
		ID:         uuid.New(),
		Type:       domain.EventScheduleTick,
		EntityType: "rule",
		EntityID:   rule.ID.String(),
		LocationID: rule.LocationID,
		OccurredAt: runAt,
		Data: map[string]any{
			"schedule": map[string]any{
				"ruleId":    rule.ID.String(),
				"runAt":     runAt.Format(time.RFC3339),
				"nextRunAt": next.Format(time.RFC3339),
				"cron":      rule.Trigger.Schedule,
				"timezone":  rule.Trigger.Timezone,
			},
		},
		OccurrenceKey: rule.ID.String() + "|" + strconv.FormatInt(runAt.Unix(), 10),
		TargetRuleID:  &ruleID,
	}
	if err := s.dispatcher.Dispatch(ctx, evt); err != nil {
		return false, err
	}
	return true, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		started := s.now()
		n, err := s.Sweep(ctx)
		s.metrics.SweepCompleted(s.now().Sub(started), n)
		if err != nil {
			s.log.Warn("trigger sweep failed", "error", err)
		} else if n > 0 {
			s.log.Debug("triggers fired", "count", n)
		}
		if _, err := s.SweepRecurring(ctx); err != nil {
			s.log.Warn("recurring sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func anchorKey(evt domain.Event, rule *domain.Rule) domain.AnchorKey {
	return domain.AnchorKey{LocationID: evt.LocationID, EntityID: evt.EntityID, Field: rule.Trigger.Anchor}
}
