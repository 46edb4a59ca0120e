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

const queueColumns = `id, fingerprint, location_id, rule_id, entity_id, event, status, attempts, max_attempts,
	available_at, claimed_at, claimed_by, last_error, action_log, created_at, updated_at, completed_at`

func scanQueueItem(row rowScanner) (domain.QueueItem, error) {
	var (
		item             domain.QueueItem
		status           string
		eventRaw, logRaw []byte
	)
	err := row.Scan(&item.ID, &item.Fingerprint, &item.LocationID, &item.RuleID, &item.EntityID, &eventRaw,
		&status, &item.Attempts, &item.MaxAttempts, &item.AvailableAt, &item.ClaimedAt, &item.ClaimedBy,
		&item.LastError, &logRaw, &item.CreatedAt, &item.UpdatedAt, &item.CompletedAt)
	if err != nil {
		return domain.QueueItem{}, err
	}
	item.Status = domain.QueueStatus(status)
	if err := json.Unmarshal(eventRaw, &item.Event); err != nil {
		return domain.QueueItem{}, fmt.Errorf("decode event: %w", err)
	}
	if len(logRaw) > 0 {
		if err := json.Unmarshal(logRaw, &item.ActionLog); err != nil {
			return domain.QueueItem{}, fmt.Errorf("decode action log: %w", err)
		}
	}
	return item, nil
}

func (s *Store) InsertQueueItem(ctx context.Context, item domain.QueueItem) (domain.QueueItem, bool, error) {
	if err := s.ready(); err != nil {
		return domain.QueueItem{}, false, err
	}
	event, err := json.Marshal(item.Event)
	if err != nil {
		return domain.QueueItem{}, false, fmt.Errorf("encode event: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO automation_queue (id, fingerprint, location_id, rule_id, entity_id, event, status,
			attempts, max_attempts, available_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING `+queueColumns,
		item.ID, item.Fingerprint, item.LocationID, item.RuleID, item.EntityID, event, string(item.Status),
		item.Attempts, item.MaxAttempts, item.AvailableAt, item.CreatedAt, item.UpdatedAt,
	)
	inserted, err := scanQueueItem(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.QueueItem{}, false, fmt.Errorf("%s: %w", opInsertQueue, err)
	}

	existing, err := scanQueueItem(s.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM automation_queue WHERE fingerprint = $1`, item.Fingerprint))
	if err != nil {
		return domain.QueueItem{}, false, fmt.Errorf("%s: load existing: %w", opInsertQueue, err)
	}
	return existing, false, nil
}

// ClaimNext locks one runnable row with SKIP LOCKED so concurrent workers never share an item.
func (s *Store) ClaimNext(ctx context.Context, workerID string, now, staleBefore time.Time) (*domain.QueueItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM automation_queue
			WHERE (status IN ('pending', 'failed') AND available_at <= $2)
			   OR (status = 'processing' AND claimed_at < $3)
			ORDER BY available_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE automation_queue q
		SET status = 'processing', claimed_by = $1, claimed_at = $2, attempts = q.attempts + 1, updated_at = $2
		FROM next
		WHERE q.id = next.id
		RETURNING `+prefixed("q.", queueColumns),
		workerID, now, staleBefore,
	)
	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// finish applies a guarded transition; the update only lands while workerID still owns the claim.
func (s *Store) finish(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, set string, args ...any) error {
	if err := s.ready(); err != nil {
		return err
	}
	entry, err := json.Marshal([]domain.RunLog{run})
	if err != nil {
		return fmt.Errorf("encode run log: %w", err)
	}

	base := []any{id, workerID, entry}
	query := fmt.Sprintf(`
		UPDATE automation_queue
		SET %s, action_log = action_log || $3::jsonb, claimed_by = NULL, claimed_at = NULL
		WHERE id = $1 AND claimed_by = $2 AND status = 'processing'`, set)
	tag, err := s.pool.Exec(ctx, query, append(base, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", opFinishQueue, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM automation_queue WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", opFinishQueue, err)
	}
	if !exists {
		return apperr.NotFound("queue item not found")
	}
	return domain.ErrClaimLost
}

func (s *Store) ExtendClaim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_queue SET claimed_at = $3, updated_at = $3
		WHERE id = $1 AND claimed_by = $2 AND status = 'processing'`,
		id, workerID, now)
	if err != nil {
		return fmt.Errorf("extend queue claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, now time.Time) error {
	return s.finish(ctx, id, workerID, run,
		`status = 'completed', completed_at = $4, last_error = NULL, updated_at = $4`, now)
}

func (s *Store) MarkRetry(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, availableAt, now time.Time) error {
	return s.finish(ctx, id, workerID, run,
		`status = 'failed', available_at = $4, last_error = $5, updated_at = $6`, availableAt, run.Error, now)
}

func (s *Store) MarkDeadLettered(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, now time.Time) error {
	return s.finish(ctx, id, workerID, run,
		`status = 'dead-lettered', last_error = $4, updated_at = $5`, run.Error, now)
}

func (s *Store) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	var status string
	err := s.pool.QueryRow(ctx, `
		WITH target AS (SELECT id, status FROM automation_queue WHERE id = $1),
		updated AS (
			UPDATE automation_queue q
			SET status = 'pending', attempts = 0, available_at = $2, updated_at = $2
			FROM target
			WHERE q.id = target.id AND target.status IN ('failed', 'dead-lettered')
			RETURNING q.id
		)
		SELECT CASE WHEN EXISTS (SELECT 1 FROM updated) THEN 'pending' ELSE target.status END
		FROM target`,
		id, now,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("queue item not found")
	}
	if err != nil {
		return err
	}
	if status != string(domain.QueuePending) {
		return apperr.Conflict("only failed or dead-lettered items can be requeued")
	}
	return nil
}

func (s *Store) GetQueueItem(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	item, err := scanQueueItem(s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM automation_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("queue item not found")
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListQueueItems(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RuleID != nil {
		args = append(args, *filter.RuleID)
		where = append(where, fmt.Sprintf("rule_id = $%d", len(args)))
	}
	query := `SELECT ` + queueColumns + ` FROM automation_queue`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
