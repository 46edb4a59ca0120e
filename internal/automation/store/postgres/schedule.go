package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/automation/schedule"
	"fieldservice_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const triggerColumns = `id, location_id, rule_id, entity_id, anchor_event, anchor_field, anchor_time, offset_minutes,
	fire_at, anchor_version, fired, cancelled, fired_at, event, created_at`

func scanAnchor(row rowScanner, key domain.AnchorKey) (domain.Anchor, error) {
	var at *time.Time
	a := domain.Anchor{Key: key}
	if err := row.Scan(&at, &a.Version, &a.EventAt); err != nil {
		return domain.Anchor{}, err
	}
	if at != nil {
		a.Time = at.UTC()
	}
	a.EventAt = a.EventAt.UTC()
	return a, nil
}

// UpsertAnchor only rewrites anchors last written by an event that did not occur later.
// The version moves only when the time does.
func (s *Store) UpsertAnchor(ctx context.Context, key domain.AnchorKey, t, eventAt time.Time) (domain.Anchor, bool, error) {
	if err := s.ready(); err != nil {
		return domain.Anchor{}, false, err
	}
	return s.writeAnchor(ctx, key, `
		INSERT INTO automation_anchors (location_id, entity_id, field, anchor_time, version, anchor_event_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, now())
		ON CONFLICT (location_id, entity_id, field) DO UPDATE
		SET anchor_time = EXCLUDED.anchor_time,
			version = automation_anchors.version +
				CASE WHEN automation_anchors.anchor_time IS DISTINCT FROM EXCLUDED.anchor_time THEN 1 ELSE 0 END,
			anchor_event_at = EXCLUDED.anchor_event_at,
			updated_at = now()
		WHERE automation_anchors.anchor_event_at <= EXCLUDED.anchor_event_at
		RETURNING anchor_time, version, anchor_event_at`,
		key.LocationID, key.EntityID, key.Field, t.UTC(), eventAt.UTC())
}

func (s *Store) InvalidateAnchor(ctx context.Context, key domain.AnchorKey, eventAt time.Time) (domain.Anchor, bool, error) {
	if err := s.ready(); err != nil {
		return domain.Anchor{}, false, err
	}
	return s.writeAnchor(ctx, key, `
		INSERT INTO automation_anchors (location_id, entity_id, field, anchor_time, version, anchor_event_at, updated_at)
		VALUES ($1, $2, $3, NULL, 1, $4, now())
		ON CONFLICT (location_id, entity_id, field) DO UPDATE
		SET anchor_time = NULL,
			version = automation_anchors.version +
				CASE WHEN automation_anchors.anchor_time IS NULL THEN 0 ELSE 1 END,
			anchor_event_at = EXCLUDED.anchor_event_at,
			updated_at = now()
		WHERE automation_anchors.anchor_event_at <= EXCLUDED.anchor_event_at
		RETURNING anchor_time, version, anchor_event_at`,
		key.LocationID, key.EntityID, key.Field, eventAt.UTC())
}

// writeAnchor runs an anchor upsert. No returned row means a later event owns the anchor.
func (s *Store) writeAnchor(ctx context.Context, key domain.AnchorKey, query string, args ...any) (domain.Anchor, bool, error) {
	a, err := scanAnchor(s.pool.QueryRow(ctx, query, args...), key)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Anchor{}, false, err
	}
	current, err := s.GetAnchor(ctx, key)
	if err != nil {
		return domain.Anchor{}, false, err
	}
	if current == nil {
		return domain.Anchor{}, false, apperr.Internal("anchor vanished during upsert")
	}
	return *current, false, nil
}

func (s *Store) GetAnchor(ctx context.Context, key domain.AnchorKey) (*domain.Anchor, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	a, err := scanAnchor(s.pool.QueryRow(ctx, `
		SELECT anchor_time, version, anchor_event_at FROM automation_anchors
		WHERE location_id = $1 AND entity_id = $2 AND field = $3`,
		key.LocationID, key.EntityID, key.Field,
	), key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTrigger(row rowScanner) (domain.ScheduledTrigger, error) {
	var (
		t           domain.ScheduledTrigger
		anchorEvent string
		eventRaw    []byte
	)
	err := row.Scan(&t.ID, &t.LocationID, &t.RuleID, &t.EntityID, &anchorEvent, &t.AnchorField, &t.AnchorTime,
		&t.OffsetMinutes, &t.FireAt, &t.AnchorVersion, &t.Fired, &t.Cancelled, &t.FiredAt, &eventRaw, &t.CreatedAt)
	if err != nil {
		return domain.ScheduledTrigger{}, err
	}
	t.AnchorEvent = domain.EventType(anchorEvent)
	if err := json.Unmarshal(eventRaw, &t.Event); err != nil {
		return domain.ScheduledTrigger{}, fmt.Errorf("decode trigger event: %w", err)
	}
	return t, nil
}

func (s *Store) InsertTrigger(ctx context.Context, t domain.ScheduledTrigger) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	event, err := json.Marshal(t.Event)
	if err != nil {
		return false, fmt.Errorf("encode trigger event: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO automation_scheduled_triggers (id, location_id, rule_id, entity_id, anchor_event, anchor_field,
			anchor_time, offset_minutes, fire_at, anchor_version, fired, cancelled, event, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, FALSE, $11, $12)
		ON CONFLICT (rule_id, entity_id, anchor_version) DO NOTHING`,
		t.ID, t.LocationID, t.RuleID, t.EntityID, string(t.AnchorEvent), t.AnchorField, t.AnchorTime,
		t.OffsetMinutes, t.FireAt, t.AnchorVersion, event, t.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", opInsertTrigger, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CancelTriggers(ctx context.Context, key domain.AnchorKey, beforeVersion int64, now time.Time) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_scheduled_triggers
		SET fired = TRUE, cancelled = TRUE, fired_at = $5
		WHERE location_id = $1 AND entity_id = $2 AND anchor_field = $3
		  AND anchor_version < $4 AND NOT fired`,
		key.LocationID, key.EntityID, key.Field, beforeVersion, now,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListDueTriggers(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM automation_scheduled_triggers
		WHERE NOT fired AND fire_at <= $1 ORDER BY fire_at ASC`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryTriggers(ctx, query, args...)
}

func (s *Store) MarkTriggerFired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_scheduled_triggers SET fired = TRUE, fired_at = $2 WHERE id = $1 AND NOT fired`,
		id, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReleaseTrigger(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	var cancelled bool
	err := s.pool.QueryRow(ctx, `
		UPDATE automation_scheduled_triggers
		SET fired = cancelled, fired_at = CASE WHEN cancelled THEN fired_at ELSE NULL END
		WHERE id = $1
		RETURNING cancelled`,
		id,
	).Scan(&cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("trigger not found")
	}
	return err
}

func (s *Store) GetTrigger(ctx context.Context, id uuid.UUID) (*domain.ScheduledTrigger, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	t, err := scanTrigger(s.pool.QueryRow(ctx,
		`SELECT `+triggerColumns+` FROM automation_scheduled_triggers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTriggers(ctx context.Context, filter schedule.TriggerFilter) ([]domain.ScheduledTrigger, error) {
	var (
		where []string
		args  []any
	)
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.RuleID != nil {
		args = append(args, *filter.RuleID)
		where = append(where, fmt.Sprintf("rule_id = $%d", len(args)))
	}
	if filter.Pending {
		where = append(where, "NOT fired")
	}
	query := `SELECT ` + triggerColumns + ` FROM automation_scheduled_triggers`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY fire_at ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryTriggers(ctx, query, args...)
}

func (s *Store) queryTriggers(ctx context.Context, query string, args ...any) ([]domain.ScheduledTrigger, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetRecurringCursor(ctx context.Context, ruleID uuid.UUID) (*domain.RecurringCursor, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	c := domain.RecurringCursor{RuleID: ruleID}
	err := s.pool.QueryRow(ctx,
		`SELECT next_run_at FROM automation_recurring_cursors WHERE rule_id = $1`, ruleID,
	).Scan(&c.NextRunAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.NextRunAt = c.NextRunAt.UTC()
	return &c, nil
}

// AdvanceRecurringCursor is a compare-and-set; a nil expected only succeeds for a new cursor.
func (s *Store) AdvanceRecurringCursor(ctx context.Context, ruleID uuid.UUID, expected *time.Time, next time.Time) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var (
		query string
		args  []any
	)
	if expected == nil {
		query = `INSERT INTO automation_recurring_cursors (rule_id, next_run_at, updated_at)
			VALUES ($1, $2, now()) ON CONFLICT (rule_id) DO NOTHING`
		args = []any{ruleID, next.UTC()}
	} else {
		query = `UPDATE automation_recurring_cursors SET next_run_at = $2, updated_at = now()
			WHERE rule_id = $1 AND next_run_at = $3`
		args = []any{ruleID, next.UTC(), expected.UTC()}
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CreateTrackingSession(ctx context.Context, session executor.TrackingSession) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracking_sessions (token, location_id, appointment_id, technician_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		session.Token, session.LocationID, session.AppointmentID, session.TechnicianID, session.ExpiresAt, session.CreatedAt,
	)
	return err
}
