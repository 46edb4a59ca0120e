package metrics

import (
	"strconv"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "automation"

// PrometheusSink implements Sink with Prometheus collectors. Registration errors are
// logged and never returned.
type PrometheusSink struct {
	eventsTotal      *prometheus.CounterVec
	rulesMatched     prometheus.Counter
	matchErrorsTotal prometheus.Counter

	actionsTotal    *prometheus.CounterVec
	executionsTotal *prometheus.CounterVec

	enqueuedTotal    *prometheus.CounterVec
	finishedTotal    *prometheus.CounterVec
	deadLettersTotal prometheus.Counter
	claimsLostTotal  prometheus.Counter
	queueDepth       prometheus.Gauge

	triggersPlanned   prometheus.Counter
	triggersFired     prometheus.Counter
	triggersCancelled prometheus.Counter
	triggersMissed    prometheus.Counter
	staleAnchorsTotal prometheus.Counter
	sweepDuration     prometheus.Histogram

	log *logger.Logger
}

var _ Sink = (*PrometheusSink)(nil)

// NewPrometheusSink creates and registers the engine collectors on reg.
func NewPrometheusSink(reg prometheus.Registerer, log *logger.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log}
	s.initEngineMetrics(reg)
	s.initQueueMetrics(reg)
	s.initSchedulerMetrics(reg)
	return s
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Events emitted into the engine.",
	}, []string{"type"})
	s.rulesMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rules_matched_total",
		Help:      "Rules selected by the matcher.",
	})
	s.matchErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_errors_total",
		Help:      "Conditions that could not be evaluated.",
	})
	s.actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_total",
		Help:      "Action dispatches by type and outcome.",
	}, []string{"action", "outcome"})
	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_executions_total",
		Help:      "Rule executions by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.eventsTotal, "events_total")
	s.register(reg, s.rulesMatched, "rules_matched_total")
	s.register(reg, s.matchErrorsTotal, "match_errors_total")
	s.register(reg, s.actionsTotal, "actions_total")
	s.register(reg, s.executionsTotal, "rule_executions_total")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.enqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_enqueued_total",
		Help:      "Enqueue calls; created=false marks a duplicate occurrence.",
	}, []string{"created"})
	s.finishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_finished_total",
		Help:      "Processed queue items by resulting status.",
	}, []string{"status"})
	s.deadLettersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_dead_letters_total",
		Help:      "Queue items that exhausted their attempts.",
	})
	s.claimsLostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_claims_lost_total",
		Help:      "Completion updates rejected because another worker reclaimed the item.",
	})
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Runnable queue items at the last poll.",
	})

	s.register(reg, s.enqueuedTotal, "queue_enqueued_total")
	s.register(reg, s.finishedTotal, "queue_finished_total")
	s.register(reg, s.deadLettersTotal, "queue_dead_letters_total")
	s.register(reg, s.claimsLostTotal, "queue_claims_lost_total")
	s.register(reg, s.queueDepth, "queue_depth")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.triggersPlanned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_planned_total",
		Help:      "Scheduled triggers persisted.",
	})
	s.triggersFired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_fired_total",
		Help:      "Scheduled triggers dispatched as time.due events.",
	})
	s.triggersCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_cancelled_total",
		Help:      "Scheduled triggers cancelled or superseded before firing.",
	})
	s.triggersMissed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_missed_total",
		Help:      "Time-based triggers not planned because their fire time had already passed.",
	})
	s.staleAnchorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_anchors_total",
		Help:      "Due triggers skipped because their anchor moved.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of trigger sweeps.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.triggersPlanned, "triggers_planned_total")
	s.register(reg, s.triggersFired, "triggers_fired_total")
	s.register(reg, s.triggersCancelled, "triggers_cancelled_total")
	s.register(reg, s.triggersMissed, "triggers_missed_total")
	s.register(reg, s.staleAnchorsTotal, "stale_anchors_total")
	s.register(reg, s.sweepDuration, "sweep_duration_seconds")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil && s.log != nil {
		s.log.Warn("metrics: failed to register collector", "name", namespace+"_"+name, "error", err)
	}
}

func (s *PrometheusSink) EventEmitted(eventType string) {
	s.eventsTotal.WithLabelValues(eventType).Inc()
}

func (s *PrometheusSink) RulesMatched(n int) {
	s.rulesMatched.Add(float64(n))
}

func (s *PrometheusSink) MatchError() {
	s.matchErrorsTotal.Inc()
}

func (s *PrometheusSink) ActionCompleted(actionType string, outcome string) {
	s.actionsTotal.WithLabelValues(actionType, outcome).Inc()
}

func (s *PrometheusSink) RuleExecuted(outcome string) {
	s.executionsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) Enqueued(created bool) {
	s.enqueuedTotal.WithLabelValues(strconv.FormatBool(created)).Inc()
}

func (s *PrometheusSink) Finished(status domain.QueueStatus) {
	s.finishedTotal.WithLabelValues(string(status)).Inc()
}

func (s *PrometheusSink) DeadLettered() {
	s.deadLettersTotal.Inc()
}

func (s *PrometheusSink) ClaimLost() {
	s.claimsLostTotal.Inc()
}

func (s *PrometheusSink) Depth(n int) {
	s.queueDepth.Set(float64(n))
}

func (s *PrometheusSink) TriggerPlanned() {
	s.triggersPlanned.Inc()
}

func (s *PrometheusSink) TriggerFired() {
	s.triggersFired.Inc()
}

func (s *PrometheusSink) TriggerCancelled(n int) {
	s.triggersCancelled.Add(float64(n))
}

func (s *PrometheusSink) TriggerMissed() {
	s.triggersMissed.Inc()
}

func (s *PrometheusSink) StaleAnchor() {
	s.staleAnchorsTotal.Inc()
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, _ int) {
	s.sweepDuration.Observe(duration.Seconds())
}
