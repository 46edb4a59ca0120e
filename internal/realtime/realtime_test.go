package realtime

import (
	"context"
	"errors"
	"testing"

	"fieldservice_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToChannelSubscribers(t *testing.T) {
	h := NewHub(logger.Nop())
	tenant := h.subscribe(TenantChannel("loc-1"))
	other := h.subscribe(TenantChannel("loc-2"))

	require.NoError(t, h.Publish(context.Background(), TenantChannel("loc-1"), "quote.signed", map[string]any{"quoteId": "q-1"}))

	select {
	case msg := <-tenant.messages:
		assert.Equal(t, "location:loc-1", msg.Channel)
		assert.Equal(t, "quote.signed", msg.Name)
		assert.Equal(t, "q-1", msg.Data["quoteId"])
	default:
		t.Fatal("expected a message on the tenant channel")
	}
	assert.Empty(t, other.messages)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(logger.Nop())
	sub := h.subscribe("location:loc-1")

	for i := 0; i < clientBuffer+5; i++ {
		require.NoError(t, h.Publish(context.Background(), "location:loc-1", "tick", nil))
	}
	assert.Len(t, sub.messages, clientBuffer)
}

func TestHubUnsubscribeRemovesEmptyChannels(t *testing.T) {
	h := NewHub(logger.Nop())
	sub := h.subscribe("location:loc-1", UserChannel("loc-1", "u-1"))
	assert.Equal(t, 1, h.Subscribers("location:loc-1"))

	h.unsubscribe(sub)
	assert.Equal(t, 0, h.Subscribers("location:loc-1"))
	assert.Empty(t, h.channels)
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, string, string, map[string]any) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutPublishesToAllAndJoinsErrors(t *testing.T) {
	h := NewHub(logger.Nop())
	sub := h.subscribe("location:loc-1")
	failing := &failingPublisher{}

	f := NewFanout(failing, nil, h)
	require.Len(t, f, 2)

	err := f.Publish(context.Background(), "location:loc-1", "ping", nil)
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Len(t, sub.messages, 1)
}
