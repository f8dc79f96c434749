package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/pagination"
)

// Ключи:
//
//	room:{id}                    -> domain.Room (json)
//	roomkey:{listing}:{buyer}    -> room id; уникальность пары
//	uroom:{user}:{room}          -> "" ; комнаты пользователя
func roomKey(id string) string                { return "room:" + id }
func pairKey(listingID, buyerID string) string { return "roomkey:" + listingID + ":" + buyerID }
func userRoomKey(userID, roomID string) string { return "uroom:" + userID + ":" + roomID }
func userRoomPrefix(userID string) string      { return "uroom:" + userID + ":" }

func loadRoom(txn *badger.Txn, roomID string) (*domain.Room, error) {
	var r domain.Room
	if err := getJSON(txn, roomKey(roomID), &r); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	if !r.Status.Valid() {
		return nil, fmt.Errorf("load room %s: unknown status %q", roomID, r.Status)
	}
	return &r, nil
}

func (s *Store) GetOrCreateRoom(ctx context.Context, listing domain.Listing, buyerID string, now time.Time) (*domain.Room, domain.RoomOutcome, error) {
	now = ts(now)
	var (
		room    *domain.Room
		outcome domain.RoomOutcome
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, pairKey(listing.ID, buyerID))
		switch {
		case err == nil:
			r, err := loadRoom(txn, id)
			if err != nil {
				return err
			}
			outcome = domain.OutcomeExisting
			if r.Status == domain.RoomClosed {
				r.Reopen(now)
				if err := setJSON(txn, roomKey(r.ID), r); err != nil {
					return err
				}
				outcome = domain.OutcomeReopened
			}
			room = r
			return nil

		case errors.Is(err, badger.ErrKeyNotFound):
			r := &domain.Room{
				ID:                domain.NewRoomID(),
				ListingID:         listing.ID,
				BuyerID:           buyerID,
				SellerID:          listing.SellerID,
				Status:            domain.RoomActive,
				CreatedAt:         now,
				LastActivity:      now,
				BuyerLastActivity: now,
			}
			if err := setJSON(txn, roomKey(r.ID), r); err != nil {
				return err
			}
			if err := txn.Set([]byte(pairKey(listing.ID, buyerID)), []byte(r.ID)); err != nil {
				return err
			}
			for _, uid := range []string{r.BuyerID, r.SellerID} {
				if err := txn.Set([]byte(userRoomKey(uid, r.ID)), nil); err != nil {
					return err
				}
			}
			room, outcome = r, domain.OutcomeCreated
			return nil

		default:
			return fmt.Errorf("lookup room pair: %w", err)
		}
	})
	if err != nil {
		return nil, domain.OutcomeExisting, err
	}
	return room, outcome, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var room *domain.Room
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		room, err = loadRoom(txn, roomID)
		return err
	})
	return room, err
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID string, limit int, cursor string) ([]domain.RoomSummary, string, error) {
	cur, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, "", domain.Invalidf("bad cursor")
	}

	var all []domain.RoomSummary
	err = s.view(ctx, func(txn *badger.Txn) error {
		prefix := userRoomPrefix(userID)
		var ids []string
		err := scanPrefix(txn, prefix, "", false, func(key string, _ []byte) (bool, error) {
			ids = append(ids, strings.TrimPrefix(key, prefix))
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			r, err := loadRoom(txn, id)
			if err != nil {
				return err
			}
			if !cur.Before(r.LastActivity, r.ID) {
				continue
			}
			n, err := unreadIn(txn, r, userID)
			if err != nil {
				return err
			}
			all = append(all, domain.RoomSummary{Room: *r, UnreadCount: n})
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].Room, all[j].Room
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		return a.ID > b.ID
	})
	page := lo.Slice(all, 0, limit)
	next := ""
	if len(page) > 0 && len(all) > limit {
		last := page[len(page)-1].Room
		next = pagination.Next(len(page), limit, last.LastActivity, last.ID)
	}
	return page, next, nil
}

func (s *Store) TotalUnread(ctx context.Context, userID string) (int, error) {
	total := 0
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := userRoomPrefix(userID)
		var ids []string
		err := scanPrefix(txn, prefix, "", false, func(key string, _ []byte) (bool, error) {
			ids = append(ids, strings.TrimPrefix(key, prefix))
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			r, err := loadRoom(txn, id)
			if err != nil {
				return err
			}
			n, err := unreadIn(txn, r, userID)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

func (s *Store) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	n := 0
	err := s.view(ctx, func(txn *badger.Txn) error {
		r, err := loadRoom(txn, roomID)
		if err != nil {
			return err
		}
		if !r.IsParticipant(userID) {
			return domain.ErrForbidden
		}
		n, err = unreadIn(txn, r, userID)
		return err
	})
	return n, err
}

// unreadIn считает сообщения собеседника после курсора userID. Сообщения лежат
// в порядке seq, а created_at растёт вместе с seq.
func unreadIn(txn *badger.Txn, room *domain.Room, userID string) (int, error) {
	lastRead := room.LastReadFor(userID)
	n := 0
	err := scanPrefix(txn, messagePrefix(room.ID), "", false, func(_ string, val []byte) (bool, error) {
		var m domain.ChatMessage
		if err := json.Unmarshal(val, &m); err != nil {
			return false, err
		}
		if m.CountsAsUnreadFor(userID, lastRead) {
			n++
		}
		return true, nil
	})
	return n, err
}

func (s *Store) MarkRead(ctx context.Context, roomID, userID string, at time.Time) (time.Time, error) {
	at = ts(at)
	var cursor time.Time
	err := s.update(ctx, func(txn *badger.Txn) error {
		r, err := loadRoom(txn, roomID)
		if err != nil {
			return err
		}
		if !r.IsParticipant(userID) {
			return domain.ErrForbidden
		}
		next := r.ReadCursor(userID, at)
		if r.IsBuyer(userID) {
			r.BuyerLastRead = &next
		} else {
			r.SellerLastRead = &next
		}
		cursor = next
		return setJSON(txn, roomKey(r.ID), r)
	})
	if err != nil {
		return time.Time{}, err
	}
	return cursor, nil
}

func (s *Store) CloseRoom(ctx context.Context, roomID, actorID string, now time.Time) (*domain.Room, bool, error) {
	now = ts(now)
	var (
		room    *domain.Room
		changed bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		r, err := loadRoom(txn, roomID)
		if err != nil {
			return err
		}
		if actorID != domain.SystemActor && !r.IsParticipant(actorID) {
			return domain.ErrForbidden
		}
		room, changed = r, false
		if r.Status != domain.RoomActive {
			return nil
		}
		r.Close(actorID, now)
		r.LastActivity = now
		changed = true
		return setJSON(txn, roomKey(r.ID), r)
	})
	if err != nil {
		return nil, false, err
	}
	return room, changed, nil
}

func (s *Store) CloseIfIdle(ctx context.Context, roomID string, cutoff, now time.Time) (*domain.Room, bool, error) {
	now = ts(now)
	var (
		room    *domain.Room
		changed bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		r, err := loadRoom(txn, roomID)
		if err != nil {
			return err
		}
		room, changed = r, false
		if r.Status != domain.RoomActive || !r.BuyerLastActivity.Before(cutoff) {
			return nil
		}
		r.Close(domain.SystemActor, now)
		r.LastActivity = now
		changed = true
		return setJSON(txn, roomKey(r.ID), r)
	})
	if err != nil {
		return nil, false, err
	}
	return room, changed, nil
}

func (s *Store) ListIdleRooms(ctx context.Context, cutoff time.Time, limit int) ([]domain.Room, error) {
	var idle []domain.Room
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, "room:", "", false, func(_ string, val []byte) (bool, error) {
			var r domain.Room
			if err := json.Unmarshal(val, &r); err != nil {
				return false, err
			}
			if r.Status == domain.RoomActive && r.BuyerLastActivity.Before(cutoff) {
				idle = append(idle, r)
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].BuyerLastActivity.Before(idle[j].BuyerLastActivity)
	})
	if limit > 0 {
		idle = lo.Slice(idle, 0, limit)
	}
	return idle, nil
}

func (s *Store) TouchBuyerActivity(ctx context.Context, roomID, buyerID string, now time.Time) error {
	now = ts(now)
	return s.update(ctx, func(txn *badger.Txn) error {
		r, err := loadRoom(txn, roomID)
		if err != nil {
			return err
		}
		if !r.IsBuyer(buyerID) || !now.After(r.BuyerLastActivity) {
			return nil
		}
		r.BuyerLastActivity = now
		return setJSON(txn, roomKey(r.ID), r)
	})
}
