package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/seed"
	"fieldservice_backend/internal/automation/service"
	"fieldservice_backend/internal/automation/store/memory"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryOpener(t *testing.T, st *memory.Store) opener {
	t.Helper()
	seeder, err := seed.New(st, logger.Nop())
	require.NoError(t, err)
	svc := service.New(st, nil, seeder, logger.Nop())
	return func(context.Context) (*service.Service, func(), error) {
		return svc, func() {}, nil
	}
}

func run(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out, open)
	root.SetArgs(args)
	root.SetOut(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLocationIsRequired(t *testing.T) {
	_, err := run(t, memoryOpener(t, memory.New()), "rules", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--location")
}

func TestSeedThenListRules(t *testing.T) {
	st := memory.New()
	open := memoryOpener(t, st)

	out, err := run(t, open, "rules", "seed", "-l", "loc-1", "--param", "signedStageId=stage-9")
	require.NoError(t, err)
	assert.Contains(t, out, "quote-signed-thank-you")
	assert.Contains(t, out, "created")

	out, err = run(t, open, "rules", "list", "-l", "loc-1", "--json")
	require.NoError(t, err)

	var res struct {
		Items []domain.Rule `json:"items"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 4, res.Total)

	out, err = run(t, open, "rules", "list", "-l", "loc-2")
	require.NoError(t, err)
	assert.NotContains(t, out, "appointment")
}

func TestQueueListRejectsUnknownStatus(t *testing.T) {
	_, err := run(t, memoryOpener(t, memory.New()), "queue", "list", "-l", "loc-1", "--status", "stuck")
	require.Error(t, err)
}

func TestQueueRequeueDeadLetteredItem(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	rule := &domain.Rule{ID: uuid.New(), LocationID: "loc-1", Name: "welcome"}
	now := time.Now().UTC()

	item, _, err := st.InsertQueueItem(ctx, domain.NewQueueItem(rule, domain.NewEvent(domain.EventQuoteSigned, "loc-1", "quote-1", nil), 1, now))
	require.NoError(t, err)
	claimed, err := st.ClaimNext(ctx, "w", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, st.MarkDeadLettered(ctx, item.ID, "w", domain.RunLog{}, now))

	open := memoryOpener(t, st)
	out, err := run(t, open, "queue", "list", "-l", "loc-1", "--status", "dead-lettered")
	require.NoError(t, err)
	assert.Contains(t, out, item.ID.String())

	out, err = run(t, open, "queue", "requeue", item.ID.String(), "-l", "loc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "requeued "+item.ID.String())

	got, err := st.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePending, got.Status)

	_, err = run(t, open, "queue", "requeue", "not-a-uuid", "-l", "loc-1")
	assert.Error(t, err)
}

func TestTriggersListEmpty(t *testing.T) {
	out, err := run(t, memoryOpener(t, memory.New()), "triggers", "list", "appt-1", "-l", "loc-1", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"items": []`)
}
