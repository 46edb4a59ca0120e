// Package service implements the automation admin operations: rule management,
// queue inspection and requeue, scheduled trigger listing, event intake and seeding.
package service

import (
	"context"
	"strings"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/schedule"
	"fieldservice_backend/internal/automation/seed"
	"fieldservice_backend/internal/automation/transport"
	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 100
	msgRuleNotFound  = "rule not found"
	msgItemNotFound  = "queue item not found"
)

// Store is the persistence the admin operations need.
type Store interface {
	CreateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error)
	UpdateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error)
	SetRuleActive(ctx context.Context, locationID string, id uuid.UUID, active bool) error
	GetRule(ctx context.Context, id uuid.UUID) (*domain.Rule, error)
	ListRules(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, error)

	GetQueueItem(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)
	ListQueueItems(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error)
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error

	ListTriggers(ctx context.Context, filter schedule.TriggerFilter) ([]domain.ScheduledTrigger, error)
}

// Emitter hands events to the engine without waiting for matching.
type Emitter interface {
	Emit(ctx context.Context, evt domain.Event)
}

// Seeder creates the default rules of a tenant.
type Seeder interface {
	SeedLocation(ctx context.Context, locationID string, params map[string]string) (seed.Result, error)
}

// Service provides the automation admin operations, always scoped to one tenant.
type Service struct {
	store   Store
	emitter Emitter
	seeder  Seeder
	log     *logger.Logger
	now     func() time.Time
}

// New creates the automation service. seeder may be nil.
func New(store Store, emitter Emitter, seeder Seeder, log *logger.Logger) *Service {
	return &Service{store: store, emitter: emitter, seeder: seeder, log: log, now: time.Now}
}

// ListRules lists the tenant's rules.
func (s *Service) ListRules(ctx context.Context, locationID string, req transport.ListRulesRequest) (transport.RuleListResponse, error) {
	filter := domain.RuleFilter{LocationID: locationID, ActiveOnly: req.ActiveOnly}
	if req.TriggerType != "" {
		tt := domain.TriggerType(req.TriggerType)
		if !tt.Valid() {
			return transport.RuleListResponse{}, apperr.Validation("unknown trigger type")
		}
		filter.TriggerType = tt
	}
	rules, err := s.store.ListRules(ctx, filter)
	if err != nil {
		return transport.RuleListResponse{}, err
	}
	if rules == nil {
		rules = []domain.Rule{}
	}
	return transport.RuleListResponse{Items: rules, Total: len(rules)}, nil
}

// GetRule returns one rule of the tenant.
func (s *Service) GetRule(ctx context.Context, locationID string, id uuid.UUID) (domain.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return domain.Rule{}, err
	}
	if rule == nil || rule.LocationID != locationID {
		return domain.Rule{}, apperr.NotFound(msgRuleNotFound)
	}
	return *rule, nil
}

// CreateRule validates and stores a new rule. Rules are active unless isActive is false.
func (s *Service) CreateRule(ctx context.Context, locationID string, req transport.RuleRequest) (domain.Rule, error) {
	rule := ruleFromRequest(locationID, req)
	rule.ID = uuid.New()
	rule.IsActive = req.IsActive == nil || *req.IsActive
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, apperr.Validation(err.Error())
	}

	created, err := s.store.CreateRule(ctx, rule)
	if err != nil {
		return domain.Rule{}, err
	}
	s.log.WithLocation(locationID).Info("automation rule created", "ruleId", created.ID.String(), "trigger", string(created.Trigger.Type))
	return created, nil
}

// UpdateRule replaces a rule's definition; counters are kept.
func (s *Service) UpdateRule(ctx context.Context, locationID string, id uuid.UUID, req transport.RuleRequest) (domain.Rule, error) {
	current, err := s.GetRule(ctx, locationID, id)
	if err != nil {
		return domain.Rule{}, err
	}

	rule := ruleFromRequest(locationID, req)
	rule.ID = id
	rule.IsActive = current.IsActive
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, apperr.Validation(err.Error())
	}

	updated, err := s.store.UpdateRule(ctx, rule)
	if err != nil {
		return domain.Rule{}, err
	}
	s.log.WithLocation(locationID).Info("automation rule updated", "ruleId", id.String())
	return updated, nil
}

// SetActive activates or deactivates a rule. Queued items of a deactivated rule are
// skipped when they run.
func (s *Service) SetActive(ctx context.Context, locationID string, id uuid.UUID, active bool) error {
	if err := s.store.SetRuleActive(ctx, locationID, id, active); err != nil {
		return err
	}
	s.log.WithLocation(locationID).Info("automation rule toggled", "ruleId", id.String(), "active", active)
	return nil
}

// ListQueue lists the tenant's queue items, newest first as ordered by the store.
func (s *Service) ListQueue(ctx context.Context, locationID string, req transport.ListQueueRequest) (transport.QueueListResponse, error) {
	filter := domain.QueueFilter{
		LocationID: locationID,
		Status:     domain.QueueStatus(req.Status),
		Limit:      limitOrDefault(req.Limit),
	}
	if req.RuleID != "" {
		id, err := uuid.Parse(req.RuleID)
		if err != nil {
			return transport.QueueListResponse{}, apperr.Validation("invalid ruleId")
		}
		filter.RuleID = &id
	}
	items, err := s.store.ListQueueItems(ctx, filter)
	if err != nil {
		return transport.QueueListResponse{}, err
	}
	if items == nil {
		items = []domain.QueueItem{}
	}
	return transport.QueueListResponse{Items: items, Total: len(items)}, nil
}

// Requeue puts a failed or dead-lettered item back to pending with attempts reset.
func (s *Service) Requeue(ctx context.Context, locationID string, id uuid.UUID) error {
	item, err := s.store.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}
	if item == nil || item.LocationID != locationID {
		return apperr.NotFound(msgItemNotFound)
	}
	if err := s.store.Requeue(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.log.WithLocation(locationID).Info("automation queue item requeued", "queueItemId", id.String(), "previousStatus", string(item.Status))
	return nil
}

// ListTriggers lists scheduled triggers, optionally for one entity or rule.
func (s *Service) ListTriggers(ctx context.Context, locationID string, req transport.ListTriggersRequest) (transport.TriggerListResponse, error) {
	filter := schedule.TriggerFilter{
		LocationID: locationID,
		EntityID:   strings.TrimSpace(req.EntityID),
		Pending:    req.Pending,
		Limit:      limitOrDefault(req.Limit),
	}
	if req.RuleID != "" {
		id, err := uuid.Parse(req.RuleID)
		if err != nil {
			return transport.TriggerListResponse{}, apperr.Validation("invalid ruleId")
		}
		filter.RuleID = &id
	}
	triggers, err := s.store.ListTriggers(ctx, filter)
	if err != nil {
		return transport.TriggerListResponse{}, err
	}
	if triggers == nil {
		triggers = []domain.ScheduledTrigger{}
	}
	return transport.TriggerListResponse{Items: triggers, Total: len(triggers)}, nil
}

// EmitEvent accepts an event from another service. Matching runs in the background;
// only the envelope is validated here.
func (s *Service) EmitEvent(ctx context.Context, locationID string, req transport.EmitEventRequest) (transport.EmitEventResponse, error) {
	t := domain.EventType(strings.TrimSpace(req.Type))
	if !t.Valid() || t == domain.EventTimeDue || t == domain.EventScheduleTick {
		return transport.EmitEventResponse{}, apperr.Validation("unsupported event type")
	}

	evt := domain.NewEvent(t, locationID, strings.TrimSpace(req.EntityID), req.Data)
	if req.EntityType != "" {
		evt.EntityType = req.EntityType
	}
	if req.OccurrenceKey != "" {
		evt.OccurrenceKey = req.OccurrenceKey
	}
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		evt.OccurredAt = req.OccurredAt.UTC()
	}

	s.emitter.Emit(ctx, evt)
	return transport.EmitEventResponse{EventID: evt.ID.String(), Accepted: true}, nil
}

// Seed creates the default rules for the tenant.
func (s *Service) Seed(ctx context.Context, locationID string, req transport.SeedRequest) (seed.Result, error) {
	if s.seeder == nil {
		return seed.Result{}, apperr.Unavailable("rule seeding is not configured", nil)
	}
	return s.seeder.SeedLocation(ctx, locationID, req.Params)
}

func ruleFromRequest(locationID string, req transport.RuleRequest) domain.Rule {
	conditions := req.Conditions
	if conditions == nil {
		conditions = []domain.Condition{}
	}
	return domain.Rule{
		LocationID: locationID,
		PipelineID: req.PipelineID,
		CalendarID: req.CalendarID,
		Name:       strings.TrimSpace(req.Name),
		Trigger:    req.Trigger,
		Conditions: conditions,
		Actions:    req.Actions,
		Priority:   req.Priority,
	}
}

func limitOrDefault(limit int) int {
	if limit < 1 {
		return defaultListLimit
	}
	return limit
}
