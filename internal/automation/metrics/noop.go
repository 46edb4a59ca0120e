package metrics

import (
	"time"

	"fieldservice_backend/internal/automation/domain"
)

// NoopSink discards everything.
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) EventEmitted(string)               {}
func (NoopSink) RulesMatched(int)                  {}
func (NoopSink) MatchError()                       {}
func (NoopSink) ActionCompleted(string, string)    {}
func (NoopSink) RuleExecuted(string)               {}
func (NoopSink) Enqueued(bool)                     {}
func (NoopSink) Finished(domain.QueueStatus)       {}
func (NoopSink) DeadLettered()                     {}
func (NoopSink) ClaimLost()                        {}
func (NoopSink) Depth(int)                         {}
func (NoopSink) TriggerPlanned()                   {}
func (NoopSink) TriggerFired()                     {}
func (NoopSink) TriggerCancelled(int)              {}
func (NoopSink) TriggerMissed()                    {}
func (NoopSink) StaleAnchor()                      {}
func (NoopSink) SweepCompleted(time.Duration, int) {}
