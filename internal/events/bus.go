package events

import (
	platformevents "fieldservice_backend/platform/events"
	"fieldservice_backend/platform/logger"
)

// InMemoryBus is the process-wide bus. Producing modules publish on it and
// automation.SubscribeSources drains it into the engine.
type InMemoryBus = platformevents.InMemoryBus

// NewInMemoryBus returns a bus whose handler failures are logged under the
// "event_bus" component.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return platformevents.NewInMemoryBus(&logger.Logger{Logger: log.With("component", "event_bus")})
}
