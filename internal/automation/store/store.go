// Package store defines the persistence contracts of the automation engine. The
// memory, postgres and mongo packages implement them.
package store

import (
	"context"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/automation/queue"
	"fieldservice_backend/internal/automation/schedule"

	"github.com/google/uuid"
)

// RuleStore persists rule definitions. Missing rules are reported as apperr.NotFound.
type RuleStore interface {
	CreateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error)
	// UpdateRule replaces the definition fields and keeps the counters.
	UpdateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error)
	SetRuleActive(ctx context.Context, locationID string, id uuid.UUID, active bool) error
	GetRule(ctx context.Context, id uuid.UUID) (*domain.Rule, error)
	FindRuleBySeedKey(ctx context.Context, locationID, seedKey string) (*domain.Rule, error)
	ListRules(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, error)
	ListActiveRules(ctx context.Context, locationID string, trigger domain.TriggerType) ([]domain.Rule, error)
	ListActiveRulesByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Rule, error)
	// IncrementRuleCounters adds one execution and one success or failure in a single update.
	IncrementRuleCounters(ctx context.Context, id uuid.UUID, succeeded bool) error
}

// Store is everything the engine persists.
type Store interface {
	RuleStore
	queue.Store
	schedule.Store
	executor.TrackingStore
	Close()
}
