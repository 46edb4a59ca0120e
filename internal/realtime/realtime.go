// Package realtime publishes automation and notification messages to tenant channels.
// Messages go to Ably for browser and mobile clients and to an in-process SSE hub.
package realtime

import (
	"context"
	"errors"
	"time"

	"fieldservice_backend/internal/automation/executor"
)

// Message is one published realtime message.
type Message struct {
	Channel     string         `json:"channel"`
	Name        string         `json:"name"`
	Data        map[string]any `json:"data,omitempty"`
	PublishedAt time.Time      `json:"publishedAt"`
}

// Publisher matches executor.RealtimePublisher.
type Publisher interface {
	Publish(ctx context.Context, channel, name string, data map[string]any) error
}

// TenantChannel is the channel every staff client of a location listens on.
func TenantChannel(locationID string) string {
	return executor.TenantChannel(locationID)
}

// UserChannel is the private channel of one staff user within a location.
func UserChannel(locationID, userID string) string {
	return TenantChannel(locationID) + ":user:" + userID
}

// Fanout publishes to every non-nil publisher and joins their errors.
type Fanout []Publisher

func NewFanout(publishers ...Publisher) Fanout {
	out := make(Fanout, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f Fanout) Publish(ctx context.Context, channel, name string, data map[string]any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, channel, name, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ executor.RealtimePublisher = Fanout(nil)
