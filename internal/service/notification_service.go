package service

import (
	"context"
	"strings"
	"time"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/pagination"
)

// NotificationService — чтение уведомлений их получателем.
type NotificationService struct {
	repo NotificationRepository
	now  func() time.Time
}

func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo, now: time.Now}
}

// NotificationList — страница плюс общее число непрочитанных.
type NotificationList struct {
	Items       []domain.Notification `json:"items"`
	NextCursor  string                `json:"next_cursor,omitempty"`
	UnreadCount int                   `json:"unread_count"`
}

func (s *NotificationService) List(ctx context.Context, userID string, page domain.NotificationPage) (*NotificationList, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	if _, err := pagination.DecodeCursor(page.Cursor); err != nil {
		return nil, domain.Invalidf("bad cursor")
	}
	page.Limit = pagination.ClampLimit(page.Limit, pagination.DefaultLimit, pagination.MaxLimit)

	items, next, err := s.repo.ListNotifications(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Notification{}
	}
	return &NotificationList{Items: items, NextCursor: next, UnreadCount: unread}, nil
}

// MarkRead отмечает уведомление прочитанным. Чужое уведомление — NotFound.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*domain.Notification, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return nil, domain.Invalidf("notification id is required")
	}
	return s.repo.MarkNotificationRead(ctx, userID, notificationID, s.now().UTC())
}
