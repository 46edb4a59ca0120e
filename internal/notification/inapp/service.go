package inapp

import (
	"context"
	"encoding/json"

	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/realtime"
	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
)

const realtimeEventName = "in_app_notification"

type Service struct {
	repo     Store
	realtime realtime.Publisher
	log      *logger.Logger
}

// NewService builds the service. publisher may be nil, in which case notifications are
// only persisted.
func NewService(repo Store, publisher realtime.Publisher, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		realtime: publisher,
		log:      log,
	}
}

// Notify persists the notification and pushes it to the user's realtime channel.
// A failed push is logged; the stored notification is still listed on next load.
func (s *Service) Notify(ctx context.Context, n executor.PushNotification) error {
	if s == nil || s.repo == nil {
		return apperr.Internal("in-app notification service not configured")
	}

	var link *string
	if n.Link != "" {
		link = &n.Link
	}
	category := n.Kind
	if category == "" {
		category = "info"
	}

	notif, err := s.repo.Create(ctx, CreateParams{
		LocationID: n.LocationID,
		UserID:     n.UserID,
		Title:      n.Title,
		Content:    n.Body,
		Link:       link,
		Category:   category,
	})
	if err != nil {
		s.log.Error("failed to persist in-app notification", "error", err, "userId", n.UserID)
		return err
	}

	if s.realtime != nil {
		if err := s.realtime.Publish(ctx, realtime.UserChannel(n.LocationID, n.UserID), realtimeEventName, toMap(notif)); err != nil {
			s.log.Warn("in-app notification push failed", "error", err, "userId", n.UserID)
		}
	}

	return nil
}

func toMap(n Notification) map[string]any {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func (s *Service) List(ctx context.Context, locationID, userID string, page, pageSize int) ([]Notification, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	offset := (page - 1) * pageSize
	return s.repo.List(ctx, locationID, userID, pageSize, offset)
}

func (s *Service) CountUnread(ctx context.Context, locationID, userID string) (int, error) {
	return s.repo.CountUnread(ctx, locationID, userID)
}

func (s *Service) MarkRead(ctx context.Context, locationID, userID string, id uuid.UUID) error {
	return s.repo.MarkRead(ctx, locationID, userID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, locationID, userID string) error {
	return s.repo.MarkAllRead(ctx, locationID, userID)
}

func (s *Service) Delete(ctx context.Context, locationID, userID string, id uuid.UUID) error {
	return s.repo.Delete(ctx, locationID, userID, id)
}

var _ executor.PushNotifier = (*Service)(nil)
