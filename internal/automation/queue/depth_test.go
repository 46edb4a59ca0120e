package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/store/memory"
	"fieldservice_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type depthMetrics struct {
	NoopMetrics
	mu     sync.Mutex
	depths []int
}

func (m *depthMetrics) Depth(n int) {
	m.mu.Lock()
	m.depths = append(m.depths, n)
	m.mu.Unlock()
}

func (m *depthMetrics) last() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.depths) == 0 {
		return 0, false
	}
	return m.depths[len(m.depths)-1], true
}

func TestPendingDepthCountsPendingItems(t *testing.T) {
	store := memory.New()
	e := NewEnqueuer(store, 3, nil)
	for _, quoteID := range []string{"quote-1", "quote-2"} {
		_, _, err := e.Enqueue(context.Background(), testRule(), domain.NewEvent(domain.EventQuoteSigned, "loc-1", quoteID, nil))
		require.NoError(t, err)
	}

	n, err := PendingDepth(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReportDepthSamplesUntilCancelled(t *testing.T) {
	store := memory.New()
	_, _, err := NewEnqueuer(store, 3, nil).Enqueue(context.Background(), testRule(), domain.NewEvent(domain.EventQuoteSigned, "loc-1", "quote-1", nil))
	require.NoError(t, err)

	m := &depthMetrics{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ReportDepth(ctx, store, m, time.Hour, logger.Nop())
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, ok := m.last()
		return ok && n == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
