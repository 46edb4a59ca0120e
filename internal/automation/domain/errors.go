package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrQueueRetryExhausted marks a queue item moved to the dead-letter state.
	ErrQueueRetryExhausted = errors.New("automation: queue retry exhausted")
	// ErrStaleAnchor marks a scheduled trigger whose anchor moved after it was planned.
	ErrStaleAnchor = errors.New("automation: scheduled trigger anchor is stale")
	// ErrClaimLost is returned when a worker updates an item it no longer owns.
	ErrClaimLost = errors.New("automation: queue claim lost")
	// ErrCollaboratorDisabled is returned by actions whose collaborator is not configured.
	ErrCollaboratorDisabled = errors.New("automation: collaborator not configured")
)

// MatchError reports a condition or trigger that could not be evaluated.
// The rule is skipped for the event and stays active.
type MatchError struct {
	RuleID   uuid.UUID
	Field    string
	Operator Operator
	Reason   string
}

func (e MatchError) Error() string {
	return fmt.Sprintf("rule %s: condition %s %s: %s", e.RuleID, e.Field, e.Operator, e.Reason)
}

// ActionFailure is a single action's failed dispatch.
type ActionFailure struct {
	RuleID    uuid.UUID
	Index     int
	Path      string
	Type      ActionType
	Critical  bool
	Retryable bool
	Err       error
}

func (e *ActionFailure) Error() string {
	return fmt.Sprintf("rule %s action %s (%s): %v", e.RuleID, e.Path, e.Type, e.Err)
}

func (e *ActionFailure) Unwrap() error { return e.Err }

// StaleAnchorError carries the versions involved in a stale-anchor skip.
type StaleAnchorError struct {
	TriggerID      uuid.UUID
	TriggerVersion int64
	LiveVersion    int64
}

func (e *StaleAnchorError) Error() string {
	return fmt.Sprintf("trigger %s planned at anchor version %d, live version %d", e.TriggerID, e.TriggerVersion, e.LiveVersion)
}

func (e *StaleAnchorError) Unwrap() error { return ErrStaleAnchor }
