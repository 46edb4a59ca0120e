package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldservice_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// RelayChannel is the redis pub/sub channel carrying realtime messages between processes.
const RelayChannel = "automation:realtime"

// RedisRelay carries messages published in the worker process to the SSE hub in the api process.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *logger.Logger
	now     func() time.Time
}

func NewRedisRelay(client *redis.Client, log *logger.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: RelayChannel, log: log, now: time.Now}
}

// NewRedisRelayFromURL parses a redis:// URL.
func NewRedisRelayFromURL(rawURL string, log *logger.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisRelay(redis.NewClient(opts), log), nil
}

func (r *RedisRelay) Publish(ctx context.Context, channel, name string, data map[string]any) error {
	body, err := json.Marshal(Message{Channel: channel, Name: name, Data: data, PublishedAt: r.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("relay realtime message: %w", err)
	}
	return nil
}

// Forward re-publishes every relayed message to target until ctx is done.
func (r *RedisRelay) Forward(ctx context.Context, target Publisher) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-messages:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				r.log.Warn("dropping malformed realtime relay message", "error", err)
				continue
			}
			if err := target.Publish(ctx, msg.Channel, msg.Name, msg.Data); err != nil {
				r.log.Warn("realtime relay forward failed", "channel", msg.Channel, "error", err)
			}
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

var _ Publisher = (*RedisRelay)(nil)
