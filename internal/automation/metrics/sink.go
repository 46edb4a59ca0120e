// Package metrics records automation engine observations.
package metrics

import (
	"time"

	"fieldservice_backend/internal/automation/domain"
)

// Sink is the full set of engine observations. Implementations must not block.
type Sink interface {
	// Engine
	EventEmitted(eventType string)
	RulesMatched(n int)
	MatchError()

	// Executor
	ActionCompleted(actionType string, outcome string)
	RuleExecuted(outcome string)

	// Queue
	Enqueued(created bool)
	Finished(status domain.QueueStatus)
	DeadLettered()
	ClaimLost()
	Depth(n int)

	// Scheduler
	TriggerPlanned()
	TriggerFired()
	TriggerCancelled(n int)
	TriggerMissed()
	StaleAnchor()
	SweepCompleted(duration time.Duration, fired int)
}
