package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cwrk-planet/deal-chat/internal/domain"
)

// Ключи:
//
//	msg:{room}:{seq:020d}   -> domain.ChatMessage (json); порядок ключей = порядок комнаты
//	msgid:{room}:{id}       -> seq
func messagePrefix(roomID string) string { return "msg:" + roomID + ":" }
func messageKey(roomID string, seq int64) string {
	return fmt.Sprintf("msg:%s:%020d", roomID, seq)
}
func messageIDKey(roomID, id string) string { return "msgid:" + roomID + ":" + id }

func (s *Store) AppendMessage(ctx context.Context, msg *domain.ChatMessage, now time.Time) (*domain.Room, error) {
	var room *domain.Room
	err := s.update(ctx, func(txn *badger.Txn) error {
		r, err := loadRoom(txn, msg.RoomID)
		if err != nil {
			return err
		}
		if msg.SenderID != domain.SystemActor && !r.IsParticipant(msg.SenderID) {
			return domain.ErrForbidden
		}
		if r.Status != domain.RoomActive {
			return domain.ErrRoomClosed
		}

		at := r.NextMessageTime(now)
		r.MessageSeq++
		msg.Seq = r.MessageSeq
		msg.CreatedAt = at
		r.LastMessageAt = &at
		r.LastActivity = at
		if r.IsBuyer(msg.SenderID) {
			r.BuyerLastActivity = at
		}

		if err := setJSON(txn, messageKey(r.ID, msg.Seq), msg); err != nil {
			return err
		}
		if err := txn.Set([]byte(messageIDKey(r.ID, msg.ID)), []byte(strconv.FormatInt(msg.Seq, 10))); err != nil {
			return err
		}
		room = r
		return setJSON(txn, roomKey(r.ID), r)
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func loadMessageSeq(txn *badger.Txn, roomID, messageID string) (int64, error) {
	raw, err := getString(txn, messageIDKey(roomID, messageID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, domain.ErrMessageNotFound
		}
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (s *Store) UpdateMessage(ctx context.Context, roomID, messageID, actorID string, mutate func(*domain.ChatMessage) error) (*domain.ChatMessage, error) {
	var out *domain.ChatMessage
	err := s.update(ctx, func(txn *badger.Txn) error {
		r, err := loadRoom(txn, roomID)
		if err != nil {
			return err
		}
		if !r.IsParticipant(actorID) {
			return domain.ErrForbidden
		}
		seq, err := loadMessageSeq(txn, roomID, messageID)
		if err != nil {
			return err
		}
		var m domain.ChatMessage
		if err := getJSON(txn, messageKey(roomID, seq), &m); err != nil {
			return fmt.Errorf("load message %s: %w", messageID, err)
		}
		if m.SenderID != actorID {
			return domain.ErrForbidden
		}
		if r.Status != domain.RoomActive {
			return domain.ErrRoomClosed
		}
		if err := mutate(&m); err != nil {
			return err
		}
		out = &m
		return setJSON(txn, messageKey(roomID, seq), &m)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListMessages(ctx context.Context, roomID string, page domain.MessagePage) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := s.view(ctx, func(txn *badger.Txn) error {
		if _, err := loadRoom(txn, roomID); err != nil {
			return err
		}
		seek := ""
		if page.AfterID != "" {
			seq, err := loadMessageSeq(txn, roomID, page.AfterID)
			if err != nil {
				return err
			}
			seek = messageKey(roomID, seq+1)
		}
		return scanPrefix(txn, messagePrefix(roomID), seek, false, func(_ string, val []byte) (bool, error) {
			var m domain.ChatMessage
			if err := json.Unmarshal(val, &m); err != nil {
				return false, err
			}
			if page.Since != nil && !m.CreatedAt.After(*page.Since) {
				return true, nil
			}
			out = append(out, m)
			return page.Limit <= 0 || len(out) < page.Limit, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
