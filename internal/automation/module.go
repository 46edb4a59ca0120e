package automation

import (
	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/automation/handler"
	"fieldservice_backend/internal/automation/matcher"
	"fieldservice_backend/internal/automation/metrics"
	"fieldservice_backend/internal/automation/queue"
	"fieldservice_backend/internal/automation/schedule"
	"fieldservice_backend/internal/automation/seed"
	"fieldservice_backend/internal/automation/service"
	"fieldservice_backend/internal/automation/store"
	"fieldservice_backend/internal/events"
	apphttp "fieldservice_backend/internal/http"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"
	"fieldservice_backend/platform/validator"
)

// ModuleConfig combines the config interfaces the automation module reads.
type ModuleConfig interface {
	config.AutomationConfig
	config.PhoneConfig
}

// ModuleDeps carries the collaborators assembled by the binaries. Collaborators left
// nil disable the actions that need them.
type ModuleDeps struct {
	Store         store.Store
	Collaborators executor.Deps
	Wakeups       schedule.WakeupScheduler
	Alerter       queue.DeadLetterAlerter
	Metrics       metrics.Sink
	Bus           events.Bus
	Validator     *validator.Validator
}

// Module is the automation bounded context implementing http.Module.
type Module struct {
	engine    *Engine
	scheduler *schedule.Scheduler
	worker    *queue.Worker
	seeder    *seed.Seeder
	service   *service.Service
	handler   *handler.Handler
}

// NewModule assembles matcher, queue, executor, scheduler and engine over one store.
func NewModule(cfg ModuleConfig, deps ModuleDeps, log *logger.Logger) (*Module, error) {
	sink := deps.Metrics
	if sink == nil {
		sink = metrics.NoopSink{}
	}

	collab := deps.Collaborators
	collab.Counters = deps.Store
	collab.Metrics = sink
	if collab.Tracking == nil {
		collab.Tracking = deps.Store
	}
	exec := executor.New(collab, executor.Options{
		MessageDedupeTTL: cfg.GetAutomationMessageDedupeTTL(),
		PhoneRegion:      cfg.GetPhoneDefaultRegion(),
	}, log)

	sched := schedule.New(deps.Store, deps.Store, schedule.Config{
		SweepInterval: cfg.GetAutomationSweepInterval(),
		Batch:         cfg.GetAutomationClaimBatch(),
	}, log)
	sched.SetMetrics(sink)
	if deps.Wakeups != nil {
		sched.SetWakeups(deps.Wakeups)
	}

	enqueuer := queue.NewEnqueuer(deps.Store, cfg.GetAutomationMaxAttempts(), sink)
	engine := NewEngine(matcher.New(deps.Store), enqueuer, exec, deps.Store, sched, sink, log)
	sched.SetDispatcher(engine)

	worker := queue.NewWorker(deps.Store, engine, queue.WorkerConfig{
		Concurrency:       cfg.GetAutomationWorkerConcurrency(),
		PollInterval:      cfg.GetAutomationPollInterval(),
		BackoffBase:       cfg.GetAutomationBackoffBase(),
		BackoffMax:        cfg.GetAutomationBackoffMax(),
		StaleClaimTimeout: cfg.GetAutomationStaleClaimTimeout(),
	}, deps.Alerter, sink, log)

	seeder, err := seed.New(deps.Store, log)
	if err != nil {
		return nil, err
	}

	if deps.Bus != nil {
		SubscribeSources(deps.Bus, engine)
	}

	val := deps.Validator
	if val == nil {
		val = validator.New()
	}
	svc := service.New(deps.Store, engine, seeder, log)

	return &Module{
		engine:    engine,
		scheduler: sched,
		worker:    worker,
		seeder:    seeder,
		service:   svc,
		handler:   handler.New(svc, val),
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "automation"
}

// Engine returns the event entry point.
func (m *Module) Engine() *Engine {
	return m.engine
}

// Scheduler returns the time-based trigger scheduler.
func (m *Module) Scheduler() *schedule.Scheduler {
	return m.scheduler
}

// Worker returns the queue worker pool.
func (m *Module) Worker() *queue.Worker {
	return m.worker
}

// Seeder returns the default rule seeder.
func (m *Module) Seeder() *seed.Seeder {
	return m.seeder
}

// Service returns the admin service.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the automation admin API and the event intake endpoint.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	intake := ctx.Protected.Group("/automation")
	if ctx.IntakeRateLimiter != nil {
		intake.Use(ctx.IntakeRateLimiter.RateLimit())
	}
	m.handler.RegisterRoutes(ctx.Admin.Group("/automation"), intake)
}

var _ apphttp.Module = (*Module)(nil)
