package realtime

import (
	"context"
	"testing"
	"time"

	"fieldservice_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRelayForwardsToHub(t *testing.T) {
	mr := miniredis.RunT(t)
	relay, err := NewRedisRelayFromURL("redis://"+mr.Addr(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })

	hub := NewHub(logger.Nop())
	sub := hub.subscribe(TenantChannel("loc-1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Forward(ctx, hub) }()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, relay.Publish(context.Background(), TenantChannel("loc-1"), "automation_dead_lettered", map[string]any{"ruleId": "r-1"}))

	select {
	case msg := <-sub.messages:
		assert.Equal(t, "automation_dead_lettered", msg.Name)
		assert.Equal(t, "r-1", msg.Data["ruleId"])
	case <-time.After(2 * time.Second):
		t.Fatal("relayed message never reached the hub")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestNewRedisRelayFromURLRejectsGarbage(t *testing.T) {
	_, err := NewRedisRelayFromURL("::not-a-url", logger.Nop())
	assert.Error(t, err)
}
