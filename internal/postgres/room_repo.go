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

func scanRoom(row pgx.Row, extra ...any) (*domain.Room, error) {
	var r domain.Room
	var status string
	dest := []any{
		&r.ID, &r.ListingID, &r.BuyerID, &r.SellerID, &status, &r.CreatedAt, &r.LastActivity,
		&r.BuyerLastActivity, &r.ClosedAt, &r.ClosedBy, &r.BuyerLastRead, &r.SellerLastRead,
		&r.MessageSeq, &r.LastMessageAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	r.Status = domain.RoomStatus(status)
	if !r.Status.Valid() {
		return nil, fmt.Errorf("room %s: unknown status %q", r.ID, status)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.LastActivity = r.LastActivity.UTC()
	r.BuyerLastActivity = r.BuyerLastActivity.UTC()
	r.ClosedAt = utcPtr(r.ClosedAt)
	r.BuyerLastRead = utcPtr(r.BuyerLastRead)
	r.SellerLastRead = utcPtr(r.SellerLastRead)
	r.LastMessageAt = utcPtr(r.LastMessageAt)
	return &r, nil
}

func getRoom(ctx context.Context, q querier, sql, roomID string) (*domain.Room, error) {
	room, err := scanRoom(q.QueryRow(ctx, sql, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return room, nil
}

// GetOrCreateRoom — вставка с ON CONFLICT DO NOTHING и блокировка строки пары:
// параллельные вызовы сходятся к одной комнате.
func (s *Store) GetOrCreateRoom(ctx context.Context, listing domain.Listing, buyerID string, now time.Time) (*domain.Room, domain.RoomOutcome, error) {
	now = now.UTC()
	var (
		room    *domain.Room
		outcome domain.RoomOutcome
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, QueryInsertRoom, domain.NewRoomID(), listing.ID, buyerID, listing.SellerID, now)
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		created := tag.RowsAffected() == 1

		r, err := scanRoom(tx.QueryRow(ctx, QueryLockRoomByPair, listing.ID, buyerID))
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}

		switch {
		case created:
			outcome = domain.OutcomeCreated
		case r.Status == domain.RoomClosed:
			if _, err := tx.Exec(ctx, QueryReopenRoom, r.ID, now); err != nil {
				return fmt.Errorf("reopen room: %w", err)
			}
			r.Reopen(now)
			outcome = domain.OutcomeReopened
		default:
			outcome = domain.OutcomeExisting
		}
		room = r
		return nil
	})
	if err != nil {
		return nil, domain.OutcomeExisting, err
	}
	return room, outcome, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	return getRoom(ctx, s.db, QueryGetRoom, roomID)
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID string, limit int, cursor string) ([]domain.RoomSummary, string, error) {
	cur, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, "", domain.Invalidf("bad cursor")
	}
	var at, id any
	if cur != nil {
		at, id = cur.At, cur.ID
	}

	rows, err := s.db.Query(ctx, QueryListRoomsForUser, userID, at, id, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.RoomSummary
	for rows.Next() {
		var unread int
		r, err := scanRoom(rows, &unread)
		if err != nil {
			return nil, "", err
		}
		out = append(out, domain.RoomSummary{Room: *r, UnreadCount: unread})
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1].Room
		next = pagination.Next(len(out), limit, last.LastActivity, last.ID)
	}
	return out, next, nil
}

func (s *Store) TotalUnread(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, QueryTotalUnread, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("total unread: %w", err)
	}
	return n, nil
}

func (s *Store) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if !room.IsParticipant(userID) {
		return 0, domain.ErrForbidden
	}
	var n int
	if err := s.db.QueryRow(ctx, QueryUnreadInRoom, roomID, userID, optTime(room.LastReadFor(userID))).Scan(&n); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// missing различает «комнаты нет» и «вы не участник» после пустого UPDATE.
func (s *Store) missing(ctx context.Context, roomID string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, QueryRoomExists, roomID).Scan(&exists); err != nil {
		return fmt.Errorf("room exists: %w", err)
	}
	if !exists {
		return domain.ErrRoomNotFound
	}
	return domain.ErrForbidden
}

func (s *Store) MarkRead(ctx context.Context, roomID, userID string, at time.Time) (time.Time, error) {
	var cursor time.Time
	err := s.db.QueryRow(ctx, QueryMarkRead, roomID, userID, at.UTC()).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, s.missing(ctx, roomID)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mark read: %w", err)
	}
	return cursor.UTC(), nil
}

func (s *Store) CloseRoom(ctx context.Context, roomID, actorID string, now time.Time) (*domain.Room, bool, error) {
	var (
		room    *domain.Room
		changed bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := getRoom(ctx, tx, QueryLockRoom, roomID)
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
		closed, err := scanRoom(tx.QueryRow(ctx, QueryCloseRoom, roomID, actorID, now.UTC()))
		if err != nil {
			return fmt.Errorf("close room: %w", err)
		}
		room, changed = closed, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return room, changed, nil
}

// CloseIfIdle — один условный UPDATE: активность покупателя, пришедшая после
// выборки кандидатов, отменяет закрытие.
func (s *Store) CloseIfIdle(ctx context.Context, roomID string, cutoff, now time.Time) (*domain.Room, bool, error) {
	room, err := scanRoom(s.db.QueryRow(ctx, QueryCloseIfIdle, roomID, cutoff.UTC(), now.UTC()))
	if err == nil {
		return room, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("close idle room: %w", err)
	}
	room, err = s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	return room, false, nil
}

func (s *Store) ListIdleRooms(ctx context.Context, cutoff time.Time, limit int) ([]domain.Room, error) {
	rows, err := s.db.Query(ctx, QueryListIdleRooms, cutoff.UTC(), optLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list idle rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) TouchBuyerActivity(ctx context.Context, roomID, buyerID string, now time.Time) error {
	tag, err := s.db.Exec(ctx, QueryTouchBuyer, roomID, buyerID, now.UTC())
	if err != nil {
		return fmt.Errorf("touch buyer activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// продавец или чужой: не ошибка, если комната существует
		if err := s.missing(ctx, roomID); !errors.Is(err, domain.ErrForbidden) {
			return err
		}
	}
	return nil
}
