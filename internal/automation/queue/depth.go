package queue

import (
	"context"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/platform/logger"
)

const depthSampleLimit = 10000

// PendingDepth counts pending items across all tenants, capped at depthSampleLimit.
func PendingDepth(ctx context.Context, store Store) (int, error) {
	items, err := store.ListQueueItems(ctx, domain.QueueFilter{Status: domain.QueuePending, Limit: depthSampleLimit})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// ReportDepth samples the pending depth into metrics every interval until ctx is done.
func ReportDepth(ctx context.Context, store Store, metrics Metrics, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := PendingDepth(ctx, store)
		if err != nil {
			log.Warn("automation queue depth sample failed", "error", err)
		} else {
			metrics.Depth(n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
