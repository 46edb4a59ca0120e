// Package memory is an in-process implementation of the automation store used by tests
// and single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/automation/schedule"
	"fieldservice_backend/platform/apperr"

	"github.com/google/uuid"
)

type triggerKey struct {
	ruleID   uuid.UUID
	entityID string
	version  int64
}

// Store keeps every entity in maps behind one mutex, which makes each method atomic.
type Store struct {
	mu sync.Mutex

	rules        map[uuid.UUID]domain.Rule
	queue        map[uuid.UUID]domain.QueueItem
	fingerprints map[string]uuid.UUID
	triggers     map[uuid.UUID]domain.ScheduledTrigger
	triggerKeys  map[triggerKey]uuid.UUID
	anchors      map[domain.AnchorKey]domain.Anchor
	cursors      map[uuid.UUID]time.Time
	tracking     map[uuid.UUID]executor.TrackingSession
	now          func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		rules:        map[uuid.UUID]domain.Rule{},
		queue:        map[uuid.UUID]domain.QueueItem{},
		fingerprints: map[string]uuid.UUID{},
		triggers:     map[uuid.UUID]domain.ScheduledTrigger{},
		triggerKeys:  map[triggerKey]uuid.UUID{},
		anchors:      map[domain.AnchorKey]domain.Anchor{},
		cursors:      map[uuid.UUID]time.Time{},
		tracking:     map[uuid.UUID]executor.TrackingSession{},
		now:          time.Now,
	}
}

// Close is a no-op.
func (s *Store) Close() {}

// ---- rules

func (s *Store) CreateRule(_ context.Context, rule domain.Rule) (domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if _, exists := s.rules[rule.ID]; exists {
		return domain.Rule{}, apperr.Conflict("rule already exists")
	}
	if rule.SeedKey != nil {
		for _, r := range s.rules {
			if r.LocationID == rule.LocationID && r.SeedKey != nil && *r.SeedKey == *rule.SeedKey {
				return domain.Rule{}, apperr.Conflict("seeded rule already exists")
			}
		}
	}
	now := s.now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.ExecutionCount, rule.SuccessCount, rule.FailureCount = 0, 0, 0
	s.rules[rule.ID] = cloneRule(rule)
	return cloneRule(rule), nil
}

func (s *Store) UpdateRule(_ context.Context, rule domain.Rule) (domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[rule.ID]
	if !ok || existing.LocationID != rule.LocationID {
		return domain.Rule{}, apperr.NotFound("rule not found")
	}
	rule.CreatedAt = existing.CreatedAt
	rule.SeedKey = existing.SeedKey
	rule.ExecutionCount = existing.ExecutionCount
	rule.SuccessCount = existing.SuccessCount
	rule.FailureCount = existing.FailureCount
	rule.UpdatedAt = s.now().UTC()
	s.rules[rule.ID] = cloneRule(rule)
	return cloneRule(rule), nil
}

func (s *Store) SetRuleActive(_ context.Context, locationID string, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok || rule.LocationID != locationID {
		return apperr.NotFound("rule not found")
	}
	rule.IsActive = active
	rule.UpdatedAt = s.now().UTC()
	s.rules[id] = rule
	return nil
}

func (s *Store) GetRule(_ context.Context, id uuid.UUID) (*domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, apperr.NotFound("rule not found")
	}
	out := cloneRule(rule)
	return &out, nil
}

func (s *Store) FindRuleBySeedKey(_ context.Context, locationID, seedKey string) (*domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if r.LocationID == locationID && r.SeedKey != nil && *r.SeedKey == seedKey {
			out := cloneRule(r)
			return &out, nil
		}
	}
	return nil, apperr.NotFound("rule not found")
}

func (s *Store) ListRules(_ context.Context, filter domain.RuleFilter) ([]domain.Rule, error) {
	return s.filterRules(func(r domain.Rule) bool {
		if filter.LocationID != "" && r.LocationID != filter.LocationID {
			return false
		}
		if filter.TriggerType != "" && r.Trigger.Type != filter.TriggerType {
			return false
		}
		return !filter.ActiveOnly || r.IsActive
	}), nil
}

func (s *Store) ListActiveRules(_ context.Context, locationID string, trigger domain.TriggerType) ([]domain.Rule, error) {
	return s.filterRules(func(r domain.Rule) bool {
		return r.IsActive && r.LocationID == locationID && r.Trigger.Type == trigger
	}), nil
}

func (s *Store) ListActiveRulesByTrigger(_ context.Context, trigger domain.TriggerType) ([]domain.Rule, error) {
	return s.filterRules(func(r domain.Rule) bool {
		return r.IsActive && r.Trigger.Type == trigger
	}), nil
}

func (s *Store) filterRules(keep func(domain.Rule) bool) []domain.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Rule
	for _, r := range s.rules {
		if keep(r) {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *Store) IncrementRuleCounters(_ context.Context, id uuid.UUID, succeeded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return apperr.NotFound("rule not found")
	}
	rule.ExecutionCount++
	if succeeded {
		rule.SuccessCount++
	} else {
		rule.FailureCount++
	}
	s.rules[id] = rule
	return nil
}

// ---- queue

func (s *Store) InsertQueueItem(_ context.Context, item domain.QueueItem) (domain.QueueItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.fingerprints[item.Fingerprint]; ok {
		return cloneItem(s.queue[id]), false, nil
	}
	s.queue[item.ID] = cloneItem(item)
	s.fingerprints[item.Fingerprint] = item.ID
	return cloneItem(item), true, nil
}

func (s *Store) ClaimNext(_ context.Context, workerID string, now, staleBefore time.Time) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidate *domain.QueueItem
	for id := range s.queue {
		item := s.queue[id]
		if !claimable(item, now, staleBefore) {
			continue
		}
		if candidate == nil || item.AvailableAt.Before(candidate.AvailableAt) ||
			(item.AvailableAt.Equal(candidate.AvailableAt) && item.CreatedAt.Before(candidate.CreatedAt)) {
			c := item
			candidate = &c
		}
	}
	if candidate == nil {
		return nil, nil
	}

	worker := workerID
	claimedAt := now
	candidate.Status = domain.QueueProcessing
	candidate.ClaimedBy = &worker
	candidate.ClaimedAt = &claimedAt
	candidate.Attempts++
	candidate.UpdatedAt = now
	s.queue[candidate.ID] = *candidate

	out := cloneItem(*candidate)
	return &out, nil
}

func claimable(item domain.QueueItem, now, staleBefore time.Time) bool {
	switch item.Status {
	case domain.QueuePending, domain.QueueFailed:
		return !item.AvailableAt.After(now)
	case domain.QueueProcessing:
		return item.ClaimedAt != nil && item.ClaimedAt.Before(staleBefore)
	}
	return false
}

func (s *Store) finish(id uuid.UUID, workerID string, run domain.RunLog, now time.Time, apply func(*domain.QueueItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[id]
	if !ok {
		return apperr.NotFound("queue item not found")
	}
	if item.Status != domain.QueueProcessing || item.ClaimedBy == nil || *item.ClaimedBy != workerID {
		return domain.ErrClaimLost
	}
	apply(&item)
	item.ClaimedBy = nil
	item.ClaimedAt = nil
	item.UpdatedAt = now
	item.ActionLog = append(item.ActionLog, run)
	s.queue[id] = item
	return nil
}

func (s *Store) ExtendClaim(_ context.Context, id uuid.UUID, workerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[id]
	if !ok {
		return apperr.NotFound("queue item not found")
	}
	if item.Status != domain.QueueProcessing || item.ClaimedBy == nil || *item.ClaimedBy != workerID {
		return domain.ErrClaimLost
	}
	claimedAt := now
	item.ClaimedAt = &claimedAt
	item.UpdatedAt = now
	s.queue[id] = item
	return nil
}

func (s *Store) MarkCompleted(_ context.Context, id uuid.UUID, workerID string, run domain.RunLog, now time.Time) error {
	return s.finish(id, workerID, run, now, func(item *domain.QueueItem) {
		item.Status = domain.QueueCompleted
		item.CompletedAt = &now
		item.LastError = nil
	})
}

func (s *Store) MarkRetry(_ context.Context, id uuid.UUID, workerID string, run domain.RunLog, availableAt, now time.Time) error {
	return s.finish(id, workerID, run, now, func(item *domain.QueueItem) {
		item.Status = domain.QueueFailed
		item.AvailableAt = availableAt
		msg := run.Error
		item.LastError = &msg
	})
}

func (s *Store) MarkDeadLettered(_ context.Context, id uuid.UUID, workerID string, run domain.RunLog, now time.Time) error {
	return s.finish(id, workerID, run, now, func(item *domain.QueueItem) {
		item.Status = domain.QueueDeadLettered
		msg := run.Error
		item.LastError = &msg
	})
}

func (s *Store) Requeue(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[id]
	if !ok {
		return apperr.NotFound("queue item not found")
	}
	if item.Status != domain.QueueDeadLettered && item.Status != domain.QueueFailed {
		return apperr.Conflict("only failed or dead-lettered items can be requeued")
	}
	item.Status = domain.QueuePending
	item.Attempts = 0
	item.AvailableAt = now
	item.UpdatedAt = now
	s.queue[id] = item
	return nil
}

func (s *Store) GetQueueItem(_ context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[id]
	if !ok {
		return nil, apperr.NotFound("queue item not found")
	}
	out := cloneItem(item)
	return &out, nil
}

func (s *Store) ListQueueItems(_ context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.QueueItem
	for _, item := range s.queue {
		if filter.LocationID != "" && item.LocationID != filter.LocationID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.RuleID != nil && item.RuleID != *filter.RuleID {
			continue
		}
		out = append(out, cloneItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ---- schedule

func (s *Store) UpsertAnchor(_ context.Context, key domain.AnchorKey, t, eventAt time.Time) (domain.Anchor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, eventAt = t.UTC(), eventAt.UTC()
	current, ok := s.anchors[key]
	switch {
	case !ok:
		current = domain.Anchor{Key: key, Time: t, Version: 1, EventAt: eventAt}
	case !current.Supersedes(eventAt):
		return current, false, nil
	default:
		if !current.Time.Equal(t) {
			current.Time = t
			current.Version++
		}
		current.EventAt = eventAt
	}
	s.anchors[key] = current
	return current, true, nil
}

func (s *Store) InvalidateAnchor(_ context.Context, key domain.AnchorKey, eventAt time.Time) (domain.Anchor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eventAt = eventAt.UTC()
	current, ok := s.anchors[key]
	switch {
	case !ok:
		current = domain.Anchor{Key: key, Version: 1}
	case !current.Supersedes(eventAt):
		return current, false, nil
	case !current.Time.IsZero():
		current.Time = time.Time{}
		current.Version++
	}
	current.EventAt = eventAt
	s.anchors[key] = current
	return current, true, nil
}

func (s *Store) GetAnchor(_ context.Context, key domain.AnchorKey) (*domain.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.anchors[key]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) InsertTrigger(_ context.Context, t domain.ScheduledTrigger) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := triggerKey{ruleID: t.RuleID, entityID: t.EntityID, version: t.AnchorVersion}
	if _, exists := s.triggerKeys[k]; exists {
		return false, nil
	}
	s.triggers[t.ID] = t
	s.triggerKeys[k] = t.ID
	return true, nil
}

func (s *Store) CancelTriggers(_ context.Context, key domain.AnchorKey, beforeVersion int64, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.triggers {
		if t.Fired || t.LocationID != key.LocationID || t.EntityID != key.EntityID || t.AnchorField != key.Field {
			continue
		}
		if t.AnchorVersion >= beforeVersion {
			continue
		}
		t.Fired = true
		t.Cancelled = true
		t.FiredAt = &now
		s.triggers[id] = t
		n++
	}
	return n, nil
}

func (s *Store) ListDueTriggers(_ context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ScheduledTrigger
	for _, t := range s.triggers {
		if !t.Fired && !t.FireAt.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkTriggerFired(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok || t.Fired {
		return false, nil
	}
	t.Fired = true
	t.FiredAt = &now
	s.triggers[id] = t
	return true, nil
}

func (s *Store) ReleaseTrigger(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok {
		return apperr.NotFound("trigger not found")
	}
	if t.Cancelled {
		return nil
	}
	t.Fired = false
	t.FiredAt = nil
	s.triggers[id] = t
	return nil
}

func (s *Store) GetTrigger(_ context.Context, id uuid.UUID) (*domain.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) ListTriggers(_ context.Context, filter schedule.TriggerFilter) ([]domain.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ScheduledTrigger
	for _, t := range s.triggers {
		if filter.LocationID != "" && t.LocationID != filter.LocationID {
			continue
		}
		if filter.EntityID != "" && t.EntityID != filter.EntityID {
			continue
		}
		if filter.RuleID != nil && t.RuleID != *filter.RuleID {
			continue
		}
		if filter.Pending && t.Fired {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) GetRecurringCursor(_ context.Context, ruleID uuid.UUID) (*domain.RecurringCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.cursors[ruleID]
	if !ok {
		return nil, nil
	}
	return &domain.RecurringCursor{RuleID: ruleID, NextRunAt: next}, nil
}

func (s *Store) AdvanceRecurringCursor(_ context.Context, ruleID uuid.UUID, expected *time.Time, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cursors[ruleID]
	if expected == nil {
		if ok {
			return false, nil
		}
	} else if !ok || !current.Equal(*expected) {
		return false, nil
	}
	s.cursors[ruleID] = next.UTC()
	return true, nil
}

// ---- tracking

func (s *Store) CreateTrackingSession(_ context.Context, session executor.TrackingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracking[session.Token] = session
	return nil
}

// TrackingSession returns a stored session. Used by tests.
func (s *Store) TrackingSession(token uuid.UUID) (executor.TrackingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.tracking[token]
	return session, ok
}
