package realtime

import (
	"context"
	"fmt"

	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"

	"github.com/ably/ably-go/ably"
)

// Ably publishes over the Ably REST API.
type Ably struct {
	rest *ably.REST
	log  *logger.Logger
}

// NewAbly returns nil when no API key is configured.
func NewAbly(cfg config.RealtimeConfig, log *logger.Logger) (*Ably, error) {
	if !cfg.IsAblyEnabled() {
		return nil, nil
	}
	rest, err := ably.NewREST(ably.WithKey(cfg.GetAblyAPIKey()))
	if err != nil {
		return nil, fmt.Errorf("create ably client: %w", err)
	}
	return &Ably{rest: rest, log: log}, nil
}

// Publish is a no-op on a nil client so a disabled Ably can sit in a Fanout.
func (a *Ably) Publish(ctx context.Context, channel, name string, data map[string]any) error {
	if a == nil {
		return nil
	}
	if err := a.rest.Channels.Get(channel).Publish(ctx, name, data); err != nil {
		a.log.Warn("ably publish failed", "channel", channel, "name", name, "error", err)
		return apperr.Unavailable("realtime publish failed", err)
	}
	return nil
}
