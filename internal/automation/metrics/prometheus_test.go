package metrics

import (
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg, logger.Nop()), reg
}

func TestPrometheusSinkCounts(t *testing.T) {
	s, _ := newTestSink(t)

	s.EventEmitted("quote.signed")
	s.EventEmitted("quote.signed")
	s.Enqueued(true)
	s.Enqueued(false)
	s.Finished(domain.QueueDeadLettered)
	s.DeadLettered()
	s.StaleAnchor()
	s.TriggerCancelled(3)
	s.TriggerMissed()
	s.ActionCompleted("send-sms", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(s.eventsTotal.WithLabelValues("quote.signed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.enqueuedTotal.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.finishedTotal.WithLabelValues("dead-lettered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.deadLettersTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.staleAnchorsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.triggersCancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.triggersMissed))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.actionsTotal.WithLabelValues("send-sms", "failed")))
}

func TestPrometheusSinkSurvivesDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewPrometheusSink(reg, logger.Nop())
	second := NewPrometheusSink(reg, logger.Nop())

	require.NotPanics(t, func() {
		second.SweepCompleted(time.Second, 4)
		second.Depth(7)
	})
	first.Depth(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.queueDepth))
}

func TestNoopSinkIsSafe(t *testing.T) {
	var s Sink = NoopSink{}
	require.NotPanics(t, func() {
		s.EventEmitted("x")
		s.SweepCompleted(time.Millisecond, 1)
	})
}
