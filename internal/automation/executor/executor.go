// Package executor dispatches a matched rule's actions in order against the CRM,
// messaging and realtime collaborators.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/render"
	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/logger"
)

const (
	defaultDedupeTTL   = 72 * time.Hour
	defaultTrackingTTL = 4 * time.Hour
	defaultRegion      = "US"
)

// Deps are the collaborators actions call. Nil collaborators make their actions fail
// with domain.ErrCollaboratorDisabled.
type Deps struct {
	SMS       SMSSender
	WhatsApp  SMSSender
	Email     EmailSender
	Briefs    BriefMailer
	Tasks     TaskCreator
	Stages    StageMover
	Assigner  UserAssigner
	Pipelines PipelineTransitioner
	Push      PushNotifier
	Realtime  RealtimePublisher
	Weather   WeatherProvider
	Contracts ContractGenerator
	Tracking  TrackingStore
	Schedules ScheduleReader
	Dedupe    Deduper
	Counters  CounterStore
	Metrics   Metrics
}

// Options tunes executor behaviour.
type Options struct {
	MessageDedupeTTL time.Duration
	TrackingTTL      time.Duration
	PhoneRegion      string
	Now              func() time.Time
}

type handlerFunc func(ctx context.Context, inv *invocation) (string, error)

// Executor runs action lists. It is safe for concurrent use.
type Executor struct {
	deps     Deps
	opts     Options
	log      *logger.Logger
	handlers map[domain.ActionType]handlerFunc
}

// New builds an executor. It panics if an action type has no handler.
func New(deps Deps, opts Options, log *logger.Logger) *Executor {
	if opts.MessageDedupeTTL <= 0 {
		opts.MessageDedupeTTL = defaultDedupeTTL
	}
	if opts.TrackingTTL <= 0 {
		opts.TrackingTTL = defaultTrackingTTL
	}
	if opts.PhoneRegion == "" {
		opts.PhoneRegion = defaultRegion
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}

	e := &Executor{deps: deps, opts: opts, log: log}
	e.handlers = make(map[domain.ActionType]handlerFunc)
	for _, t := range domain.AllActionTypes() {
		h := e.handlerFor(t)
		if h == nil {
			panic(fmt.Sprintf("executor: no handler for action type %q", t))
		}
		e.handlers[t] = h
	}
	return e
}

func (e *Executor) handlerFor(t domain.ActionType) handlerFunc {
	switch t {
	case domain.ActionSendSMS:
		return e.sendSMS
	case domain.ActionSendEmail:
		return e.sendEmail
	case domain.ActionCreateTask:
		return e.createTask
	case domain.ActionMoveToStage:
		return e.moveToStage
	case domain.ActionPushNotification:
		return e.pushNotification
	case domain.ActionAssignUser:
		return e.assignUser
	case domain.ActionUpdateRealtimeChannel:
		return e.updateRealtimeChannel
	case domain.ActionTransitionPipeline:
		return e.transitionPipeline
	case domain.ActionConditional:
		return e.conditional
	case domain.ActionKeywordRouter:
		return e.keywordRouter
	case domain.ActionCheckWeather:
		return e.checkWeather
	case domain.ActionGenerateContract:
		return e.generateContract
	case domain.ActionEnableTracking:
		return e.enableTracking
	case domain.ActionSendDailyBrief:
		return e.sendDailyBrief
	}
	return nil
}

// invocation is one action dispatch. Nested meta-action dispatches share the run.
type invocation struct {
	run    *run
	action domain.Action
	index  int
	path   string
	config map[string]any
}

type run struct {
	rule     *domain.Rule
	event    domain.Event
	ctx      render.Context
	runKey   string
	results  []domain.ActionResult
	failures []*domain.ActionFailure
}

// Execute runs the rule's actions in order against the event. A failed action is recorded
// and the list continues unless the action is critical. Rule counters are updated once.
func (e *Executor) Execute(ctx context.Context, rule *domain.Rule, evt domain.Event) domain.ExecutionResult {
	started := e.opts.Now().UTC()
	r := &run{
		rule:   rule,
		event:  evt,
		ctx:    render.BuildContext(evt),
		runKey: domain.Fingerprint(evt.LocationID, rule.ID, evt.EntityID, evt.Occurrence()),
	}
	log := e.log.WithContext(ctx).WithLocation(evt.LocationID)

	aborted := false
	for i, action := range rule.Actions {
		if ctx.Err() != nil {
			r.skip(i, strconv.Itoa(i), action.Type, "context cancelled")
			continue
		}
		if aborted {
			r.skip(i, strconv.Itoa(i), action.Type, "aborted by critical failure")
			continue
		}
		failure := e.dispatch(ctx, r, action, i, strconv.Itoa(i))
		if failure != nil && action.Critical {
			aborted = true
		}
	}

	result := domain.ExecutionResult{
		RuleID:     rule.ID,
		Results:    r.results,
		Failures:   r.failures,
		StartedAt:  started,
		FinishedAt: e.opts.Now().UTC(),
		TopLevel:   len(rule.Actions),
		Aborted:    aborted,
	}

	outcome := "succeeded"
	if !result.Succeeded() {
		outcome = "failed"
	}
	e.deps.Metrics.RuleExecuted(outcome)

	if e.deps.Counters != nil {
		// Counters are bookkeeping only; a write failure must not fail the run.
		if err := e.deps.Counters.IncrementRuleCounters(context.WithoutCancel(ctx), rule.ID, result.Succeeded()); err != nil {
			log.DatabaseError("increment_rule_counters", err)
		}
	}
	return result
}

// dispatch renders and runs one action, recording its result.
func (e *Executor) dispatch(ctx context.Context, r *run, action domain.Action, index int, path string) *domain.ActionFailure {
	handler, ok := e.handlers[action.Type]
	if !ok {
		return r.fail(e, action, index, path, fmt.Errorf("unknown action type %q", action.Type))
	}

	cfg := action.Config
	if action.Type.IsMeta() {
		cfg = render.Config(action.Config, r.ctx, "action", "actions", "expression", "defaultAction", "keywords")
	} else {
		cfg = render.Config(action.Config, r.ctx)
	}

	// Reserve the slot so nested results follow their parent in the log.
	slot := len(r.results)
	r.results = append(r.results, domain.ActionResult{Index: index, Path: path, Type: action.Type})

	inv := &invocation{run: r, action: action, index: index, path: path, config: cfg}
	detail, err := handler(ctx, inv)

	var skip *skipError
	switch {
	case errors.As(err, &skip):
		r.results[slot].Outcome = domain.OutcomeSkipped
		r.results[slot].Detail = skip.reason
	case err != nil:
		r.results[slot].Outcome = domain.OutcomeFailed
		r.results[slot].Error = err.Error()
		return r.record(e, action, index, path, err)
	default:
		r.results[slot].Outcome = domain.OutcomeSucceeded
		r.results[slot].Detail = detail
	}
	e.deps.Metrics.ActionCompleted(string(action.Type), string(r.results[slot].Outcome))
	return nil
}

func (r *run) skip(index int, path string, t domain.ActionType, reason string) {
	r.results = append(r.results, domain.ActionResult{
		Index:   index,
		Path:    path,
		Type:    t,
		Outcome: domain.OutcomeSkipped,
		Detail:  reason,
	})
}

func (r *run) fail(e *Executor, action domain.Action, index int, path string, err error) *domain.ActionFailure {
	r.results = append(r.results, domain.ActionResult{
		Index:   index,
		Path:    path,
		Type:    action.Type,
		Outcome: domain.OutcomeFailed,
		Error:   err.Error(),
	})
	return r.record(e, action, index, path, err)
}

func (r *run) record(e *Executor, action domain.Action, index int, path string, err error) *domain.ActionFailure {
	failure := &domain.ActionFailure{
		RuleID:    r.rule.ID,
		Index:     index,
		Path:      path,
		Type:      action.Type,
		Critical:  action.Critical,
		Retryable: Retryable(err),
		Err:       err,
	}
	r.failures = append(r.failures, failure)
	e.log.ActionFailed(r.rule.ID.String(), string(action.Type), index, err)
	e.deps.Metrics.ActionCompleted(string(action.Type), string(domain.OutcomeFailed))
	return failure
}

// Retryable reports whether err is a transport-level failure worth retrying.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || apperr.Is(err, apperr.KindUnavailable) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// skipError marks a handler that deliberately did nothing.
type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

func skipped(reason string) (string, error) {
	return "", &skipError{reason: reason}
}

func disabled(t domain.ActionType) error {
	return fmt.Errorf("%s: %w", t, domain.ErrCollaboratorDisabled)
}

type noopMetrics struct{}

func (noopMetrics) ActionCompleted(string, string) {}
func (noopMetrics) RuleExecuted(string)            {}
