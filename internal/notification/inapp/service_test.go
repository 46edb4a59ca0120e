package inapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	items     []Notification
	createErr error
}

func (m *memoryStore) Create(_ context.Context, p CreateParams) (Notification, error) {
	if m.createErr != nil {
		return Notification{}, m.createErr
	}
	n := Notification{
		ID:         uuid.New(),
		LocationID: p.LocationID,
		UserID:     p.UserID,
		Title:      p.Title,
		Content:    p.Content,
		Link:       p.Link,
		Category:   p.Category,
		CreatedAt:  time.Now().UTC(),
	}
	m.items = append(m.items, n)
	return n, nil
}

func (m *memoryStore) List(_ context.Context, _, _ string, limit, offset int) ([]Notification, int, error) {
	end := offset + limit
	if end > len(m.items) {
		end = len(m.items)
	}
	if offset > end {
		offset = end
	}
	return m.items[offset:end], len(m.items), nil
}

func (m *memoryStore) CountUnread(context.Context, string, string) (int, error) {
	return len(m.items), nil
}

func (m *memoryStore) MarkRead(context.Context, string, string, uuid.UUID) error { return nil }
func (m *memoryStore) MarkAllRead(context.Context, string, string) error         { return nil }
func (m *memoryStore) Delete(context.Context, string, string, uuid.UUID) error   { return nil }

type published struct {
	channel string
	name    string
	data    map[string]any
}

type recordingPublisher struct {
	calls []published
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, channel, name string, data map[string]any) error {
	p.calls = append(p.calls, published{channel: channel, name: name, data: data})
	return p.err
}

func TestNotifyPersistsAndPushesToUserChannel(t *testing.T) {
	store := &memoryStore{}
	pub := &recordingPublisher{}
	svc := NewService(store, pub, logger.Nop())

	err := svc.Notify(context.Background(), executor.PushNotification{
		LocationID: "loc-1",
		UserID:     "u-1",
		Title:      "Quote signed",
		Body:       "Ana signed Q-1001",
		Link:       "/quotes/q-1",
		Kind:       "quote.signed",
	})
	require.NoError(t, err)

	require.Len(t, store.items, 1)
	assert.Equal(t, "quote.signed", store.items[0].Category)
	require.NotNil(t, store.items[0].Link)
	assert.Equal(t, "/quotes/q-1", *store.items[0].Link)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, "location:loc-1:user:u-1", pub.calls[0].channel)
	assert.Equal(t, realtimeEventName, pub.calls[0].name)
	assert.Equal(t, "Quote signed", pub.calls[0].data["title"])
}

func TestNotifyIgnoresPushFailure(t *testing.T) {
	store := &memoryStore{}
	svc := NewService(store, &recordingPublisher{err: errors.New("offline")}, logger.Nop())

	err := svc.Notify(context.Background(), executor.PushNotification{LocationID: "loc-1", UserID: "u-1", Title: "hi"})
	require.NoError(t, err)
	assert.Len(t, store.items, 1)
}

func TestNotifyReturnsStoreError(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(&memoryStore{createErr: errors.New("db down")}, pub, logger.Nop())

	err := svc.Notify(context.Background(), executor.PushNotification{LocationID: "loc-1", UserID: "u-1", Title: "hi"})
	require.Error(t, err)
	assert.Empty(t, pub.calls)
}

func TestListClampsPaging(t *testing.T) {
	store := &memoryStore{}
	svc := NewService(store, nil, logger.Nop())
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Notify(context.Background(), executor.PushNotification{LocationID: "l", UserID: "u", Title: "t"}))
	}

	items, total, err := svc.List(context.Background(), "l", "u", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 3)
}
