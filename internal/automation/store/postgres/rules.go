package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ruleColumns = `id, location_id, pipeline_id, calendar_id, name, seed_key, trigger, conditions, actions,
	priority, is_active, execution_count, success_count, failure_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (domain.Rule, error) {
	var (
		r                            domain.Rule
		triggerRaw, condRaw, actsRaw []byte
	)
	err := row.Scan(&r.ID, &r.LocationID, &r.PipelineID, &r.CalendarID, &r.Name, &r.SeedKey,
		&triggerRaw, &condRaw, &actsRaw, &r.Priority, &r.IsActive,
		&r.ExecutionCount, &r.SuccessCount, &r.FailureCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Rule{}, err
	}
	if err := json.Unmarshal(triggerRaw, &r.Trigger); err != nil {
		return domain.Rule{}, fmt.Errorf("decode trigger: %w", err)
	}
	if err := json.Unmarshal(condRaw, &r.Conditions); err != nil {
		return domain.Rule{}, fmt.Errorf("decode conditions: %w", err)
	}
	if err := json.Unmarshal(actsRaw, &r.Actions); err != nil {
		return domain.Rule{}, fmt.Errorf("decode actions: %w", err)
	}
	return r, nil
}

func encodeRule(r domain.Rule) (trigger, conditions, actions []byte, err error) {
	if trigger, err = json.Marshal(r.Trigger); err != nil {
		return nil, nil, nil, err
	}
	if r.Conditions == nil {
		r.Conditions = []domain.Condition{}
	}
	if conditions, err = json.Marshal(r.Conditions); err != nil {
		return nil, nil, nil, err
	}
	if actions, err = json.Marshal(r.Actions); err != nil {
		return nil, nil, nil, err
	}
	return trigger, conditions, actions, nil
}

func (s *Store) CreateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if err := s.ready(); err != nil {
		return domain.Rule{}, err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	trigger, conditions, actions, err := encodeRule(rule)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("encode rule: %w", err)
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO automation_rules (id, location_id, pipeline_id, calendar_id, name, seed_key, trigger_type,
			trigger, conditions, actions, priority, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+ruleColumns,
		rule.ID, rule.LocationID, rule.PipelineID, rule.CalendarID, rule.Name, rule.SeedKey, string(rule.Trigger.Type),
		trigger, conditions, actions, rule.Priority, rule.IsActive, rule.CreatedAt, now,
	)
	created, err := scanRule(row)
	if isUniqueViolation(err) {
		return domain.Rule{}, apperr.Conflict("rule already exists").WithOp(opCreateRule)
	}
	if err != nil {
		return domain.Rule{}, fmt.Errorf("%s: %w", opCreateRule, err)
	}
	return created, nil
}

func (s *Store) UpdateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if err := s.ready(); err != nil {
		return domain.Rule{}, err
	}
	trigger, conditions, actions, err := encodeRule(rule)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("encode rule: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE automation_rules
		SET pipeline_id = $3, calendar_id = $4, name = $5, trigger_type = $6, trigger = $7,
			conditions = $8, actions = $9, priority = $10, is_active = $11, updated_at = now()
		WHERE id = $1 AND location_id = $2
		RETURNING `+ruleColumns,
		rule.ID, rule.LocationID, rule.PipelineID, rule.CalendarID, rule.Name, string(rule.Trigger.Type), trigger,
		conditions, actions, rule.Priority, rule.IsActive,
	)
	updated, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Rule{}, apperr.NotFound("rule not found").WithOp(opUpdateRule)
	}
	if err != nil {
		return domain.Rule{}, fmt.Errorf("%s: %w", opUpdateRule, err)
	}
	return updated, nil
}

func (s *Store) SetRuleActive(ctx context.Context, locationID string, id uuid.UUID, active bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_rules SET is_active = $3, updated_at = now() WHERE id = $1 AND location_id = $2`,
		id, locationID, active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rule not found")
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*domain.Rule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rule, err := scanRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("rule not found")
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Store) FindRuleBySeedKey(ctx context.Context, locationID, seedKey string) (*domain.Rule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rule, err := scanRule(s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE location_id = $1 AND seed_key = $2`,
		locationID, seedKey,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("rule not found")
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Store) ListRules(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, error) {
	var (
		where []string
		args  []any
	)
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if filter.TriggerType != "" {
		args = append(args, string(filter.TriggerType))
		where = append(where, fmt.Sprintf("trigger_type = $%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	query := `SELECT ` + ruleColumns + ` FROM automation_rules`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`
	return s.queryRules(ctx, query, args...)
}

func (s *Store) ListActiveRules(ctx context.Context, locationID string, trigger domain.TriggerType) ([]domain.Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules
		WHERE location_id = $1 AND trigger_type = $2 AND is_active
		ORDER BY priority DESC, created_at ASC, id ASC`,
		locationID, string(trigger),
	)
}

func (s *Store) ListActiveRulesByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules
		WHERE trigger_type = $1 AND is_active
		ORDER BY priority DESC, created_at ASC, id ASC`,
		string(trigger),
	)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]domain.Rule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) IncrementRuleCounters(ctx context.Context, id uuid.UUID, succeeded bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	success, failure := 0, 1
	if succeeded {
		success, failure = 1, 0
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_rules
		SET execution_count = execution_count + 1,
			success_count = success_count + $2,
			failure_count = failure_count + $3
		WHERE id = $1`,
		id, success, failure,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rule not found")
	}
	return nil
}
