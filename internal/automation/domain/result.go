package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionOutcome is the recorded result of one action.
type ActionOutcome string

const (
	OutcomeSucceeded ActionOutcome = "succeeded"
	OutcomeFailed    ActionOutcome = "failed"
	OutcomeSkipped   ActionOutcome = "skipped"
)

// ActionResult is one entry of the activity log.
type ActionResult struct {
	Index   int           `json:"index" bson:"index"`
	Path    string        `json:"path" bson:"path"`
	Type    ActionType    `json:"type" bson:"type"`
	Outcome ActionOutcome `json:"outcome" bson:"outcome"`
	Detail  string        `json:"detail,omitempty" bson:"detail,omitempty"`
	Error   string        `json:"error,omitempty" bson:"error,omitempty"`
}

// ExecutionResult summarises one run of a rule's action list.
type ExecutionResult struct {
	RuleID     uuid.UUID
	Results    []ActionResult
	Failures   []*ActionFailure
	StartedAt  time.Time
	FinishedAt time.Time
	// TopLevel is the number of top-level actions in the rule.
	TopLevel int
	// Aborted is set when a critical failure stopped the list.
	Aborted bool
	// RuleSkipped is set when the rule was missing or inactive at execution time.
	RuleSkipped bool
}

// Succeeded reports a run without action failures.
func (r ExecutionResult) Succeeded() bool {
	return len(r.Failures) == 0
}

// RetryError returns non-nil when the queue should run the item again: a critical action
// failed, or every top-level action failed with a retryable error.
func (r ExecutionResult) RetryError() error {
	if len(r.Failures) == 0 {
		return nil
	}
	for _, f := range r.Failures {
		if f.Critical {
			return fmt.Errorf("critical action failed: %w", f)
		}
	}
	if r.TopLevel == 0 {
		return nil
	}
	var top []*ActionFailure
	for _, f := range r.Failures {
		if !strings.Contains(f.Path, ".") {
			top = append(top, f)
		}
	}
	if len(top) < r.TopLevel {
		return nil
	}
	errs := make([]error, 0, len(top))
	for _, f := range top {
		if !f.Retryable {
			return nil
		}
		errs = append(errs, f)
	}
	return fmt.Errorf("all actions failed: %w", errors.Join(errs...))
}

// Summary is a short description for activity logs.
func (r ExecutionResult) Summary() string {
	if r.RuleSkipped {
		return "rule skipped"
	}
	if r.Succeeded() {
		return fmt.Sprintf("%d actions succeeded", len(r.Results))
	}
	msgs := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		msgs = append(msgs, f.Error())
	}
	return strings.Join(msgs, "; ")
}

// Match is a rule selected for an event.
type Match struct {
	Rule *Rule
}
