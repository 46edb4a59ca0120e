package postgres

import (
	"context"
	"os"
	"testing"

	"fieldservice_backend/internal/automation/store"
	"fieldservice_backend/internal/automation/store/storetest"
	"fieldservice_backend/migrations"
	"fieldservice_backend/platform/db"
	"fieldservice_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const truncateAll = `TRUNCATE automation_rules, automation_queue, automation_anchors,
	automation_scheduled_triggers, automation_recurring_cursors, tracking_sessions`

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.RunMigrations(ctx, pool, migrations.FS, logger.Nop()))

	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := pool.Exec(ctx, truncateAll)
		require.NoError(t, err)
		return New(pool)
	})
}
