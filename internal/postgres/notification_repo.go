package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/pagination"

	"github.com/jackc/pgx/v5"
)

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n    domain.Notification
		kind string
	)
	err := row.Scan(&n.ID, &n.RecipientID, &n.RoomID, &n.MessageID, &kind, &n.Title, &n.Body,
		&n.IsRead, &n.CreatedAt, &n.ReadAt)
	if err != nil {
		return nil, err
	}
	n.Kind = domain.NotificationKind(kind)
	n.CreatedAt = n.CreatedAt.UTC()
	n.ReadAt = utcPtr(n.ReadAt)
	return &n, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = n.CreatedAt.UTC().Truncate(time.Microsecond)
	if n.ID == "" {
		n.ID = domain.NewSortableID(n.CreatedAt)
	}
	_, err := s.db.Exec(ctx, QueryInsertNotification,
		n.ID, n.RecipientID, n.RoomID, n.MessageID, string(n.Kind), n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, page domain.NotificationPage) ([]domain.Notification, string, error) {
	cur, err := pagination.DecodeCursor(page.Cursor)
	if err != nil {
		return nil, "", domain.Invalidf("bad cursor")
	}
	var at, id any
	if cur != nil {
		at, id = cur.At, cur.ID
	}
	var limit any
	if page.Limit > 0 {
		limit = page.Limit + 1
	}

	rows, err := s.db.Query(ctx, QueryListNotifications, recipientID, page.UnreadOnly, at, id, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
		last := out[len(out)-1]
		next = pagination.Next(len(out), page.Limit, last.CreatedAt, last.ID)
	}
	return out, next, nil
}

func (s *Store) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, QueryCountUnreadNotifications, recipientID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// MarkNotificationRead — только получатель; чужое уведомление неотличимо от отсутствующего.
func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, notificationID string, now time.Time) (*domain.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx, QueryMarkNotificationRead, notificationID, recipientID, now.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}
