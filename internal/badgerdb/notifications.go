package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/pagination"
)

// notif:{recipient}:{ulid} -> domain.Notification (json). ULID растёт со временем,
// поэтому обратный обход префикса даёт новые сверху.
func notificationPrefix(recipientID string) string { return "notif:" + recipientID + ":" }
func notificationKey(recipientID, id string) string {
	return notificationPrefix(recipientID) + id
}

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = ts(n.CreatedAt)
	if n.ID == "" {
		n.ID = domain.NewSortableID(n.CreatedAt)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, notificationKey(n.RecipientID, n.ID), n)
	})
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, page domain.NotificationPage) ([]domain.Notification, string, error) {
	cur, err := pagination.DecodeCursor(page.Cursor)
	if err != nil {
		return nil, "", domain.Invalidf("bad cursor")
	}

	var out []domain.Notification
	more := false
	err = s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, notificationPrefix(recipientID), "", true, func(_ string, val []byte) (bool, error) {
			var n domain.Notification
			if err := json.Unmarshal(val, &n); err != nil {
				return false, err
			}
			if !cur.Before(n.CreatedAt, n.ID) || (page.UnreadOnly && n.IsRead) {
				return true, nil
			}
			if page.Limit > 0 && len(out) == page.Limit {
				more = true
				return false, nil
			}
			out = append(out, n)
			return true, nil
		})
	})
	if err != nil {
		return nil, "", err
	}

	next := ""
	if more {
		last := out[len(out)-1]
		next = pagination.Next(len(out), page.Limit, last.CreatedAt, last.ID)
	}
	return out, next, nil
}

func (s *Store) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	n := 0
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, notificationPrefix(recipientID), "", false, func(_ string, val []byte) (bool, error) {
			var item domain.Notification
			if err := json.Unmarshal(val, &item); err != nil {
				return false, err
			}
			if !item.IsRead {
				n++
			}
			return true, nil
		})
	})
	return n, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, notificationID string, now time.Time) (*domain.Notification, error) {
	now = ts(now)
	var out *domain.Notification
	err := s.update(ctx, func(txn *badger.Txn) error {
		var n domain.Notification
		key := notificationKey(recipientID, notificationID)
		if err := getJSON(txn, key, &n); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrNotificationNotFound
			}
			return fmt.Errorf("load notification: %w", err)
		}
		out = &n
		if n.IsRead {
			return nil
		}
		n.IsRead = true
		n.ReadAt = &now
		return setJSON(txn, key, &n)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
