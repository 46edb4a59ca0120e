package bootstrap

import (
	"net/http"

	"fieldservice_backend/internal/automation"
	"fieldservice_backend/internal/automation/metrics"
	"fieldservice_backend/internal/events"
	"fieldservice_backend/internal/scheduler"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"
	"fieldservice_backend/platform/validator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AutomationConfig is what NewAutomation reads.
type AutomationConfig interface {
	automation.ModuleConfig
	config.SchedulerConfig
}

// Automation bundles the assembled module with its metrics endpoint and wake-up client.
type Automation struct {
	Module  *automation.Module
	Sink    *metrics.PrometheusSink
	Metrics http.Handler
	Wakeups *scheduler.Client
}

// NewMetrics registers runtime collectors and the automation sink on a fresh registry.
func NewMetrics(log *logger.Logger) (*metrics.PrometheusSink, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewPrometheusSink(reg, log), promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// NewAutomation wires the automation module over infra and collab.
func NewAutomation(cfg AutomationConfig, infra *Infra, collab *Collaborators, bus events.Bus, val *validator.Validator, log *logger.Logger) (*Automation, error) {
	sink, handler := NewMetrics(log)

	out := &Automation{Sink: sink, Metrics: handler}
	deps := automation.ModuleDeps{
		Store:         infra.Store,
		Collaborators: collab.Deps,
		Alerter:       collab.DeadLetterAlerter(cfg, infra, log),
		Metrics:       sink,
		Bus:           bus,
		Validator:     val,
	}

	if cfg.GetRedisURL() != "" {
		client, err := scheduler.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		out.Wakeups = client
		deps.Wakeups = client
	} else {
		log.Warn("REDIS_URL not configured; time-based triggers rely on the periodic sweep only")
	}

	module, err := automation.NewModule(cfg, deps, log)
	if err != nil {
		if out.Wakeups != nil {
			_ = out.Wakeups.Close()
		}
		return nil, err
	}
	out.Module = module
	return out, nil
}

// Close releases the wake-up client.
func (a *Automation) Close() {
	if a != nil && a.Wakeups != nil {
		_ = a.Wakeups.Close()
	}
}
