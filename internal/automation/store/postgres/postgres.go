// Package postgres implements the automation store on PostgreSQL with pgx.
package postgres

import (
	"errors"

	"fieldservice_backend/platform/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreateRule     = "automation.postgres.create_rule"
	opUpdateRule     = "automation.postgres.update_rule"
	opInsertQueue    = "automation.postgres.insert_queue_item"
	opFinishQueue    = "automation.postgres.finish_queue_item"
	opInsertTrigger  = "automation.postgres.insert_trigger"
	uniqueViolation  = "23505"
	errNotConfigured = "automation postgres store not configured"
)

// Store is backed by a pgx pool owned by the caller.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close is a no-op; the pool belongs to the composition root.
func (s *Store) Close() {}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) ready() error {
	if s == nil || s.pool == nil {
		return apperr.Internal(errNotConfigured)
	}
	return nil
}
