package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/deal-chat/internal/domain"

	"github.com/jackc/pgx/v5"
)

func scanMessage(row pgx.Row) (*domain.ChatMessage, error) {
	var (
		m       domain.ChatMessage
		kind    string
		attRef  *string
		attName *string
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.Seq, &m.SenderID, &kind, &m.Content, &attRef, &attName,
		&m.CreatedAt, &m.EditedAt, &m.IsEdited, &m.IsDeleted)
	if err != nil {
		return nil, err
	}
	m.Kind = domain.MessageKind(kind)
	if attRef != nil {
		m.Attachment = &domain.Attachment{Ref: *attRef}
		if attName != nil {
			m.Attachment.Name = *attName
		}
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.EditedAt = utcPtr(m.EditedAt)
	return &m, nil
}

func attachmentArgs(a *domain.Attachment) (ref, name any) {
	if a == nil {
		return nil, nil
	}
	return a.Ref, a.Name
}

// AppendMessage под блокировкой комнаты: статус, участник, seq и created_at
// проверяются и выдаются в одной транзакции.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.ChatMessage, now time.Time) (*domain.Room, error) {
	var room *domain.Room
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := getRoom(ctx, tx, QueryLockRoom, msg.RoomID)
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
		seq := r.MessageSeq + 1
		ref, name := attachmentArgs(msg.Attachment)
		if _, err := tx.Exec(ctx, QueryInsertMessage,
			msg.ID, r.ID, seq, msg.SenderID, string(msg.Kind), msg.Content, ref, name, at,
		); err != nil {
			return fmt.Errorf("insert message: %w", mapPgError(err))
		}
		if _, err := tx.Exec(ctx, QueryAdvanceRoom, r.ID, seq, at, msg.SenderID); err != nil {
			return fmt.Errorf("advance room: %w", err)
		}

		msg.Seq, msg.CreatedAt = seq, at
		r.MessageSeq = seq
		r.LastMessageAt = &at
		r.LastActivity = at
		if r.IsBuyer(msg.SenderID) {
			r.BuyerLastActivity = at
		}
		room = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Store) UpdateMessage(ctx context.Context, roomID, messageID, actorID string, mutate func(*domain.ChatMessage) error) (*domain.ChatMessage, error) {
	var out *domain.ChatMessage
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := getRoom(ctx, tx, QueryLockRoom, roomID)
		if err != nil {
			return err
		}
		if !r.IsParticipant(actorID) {
			return domain.ErrForbidden
		}
		m, err := scanMessage(tx.QueryRow(ctx, QueryLockMessage, roomID, messageID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrMessageNotFound
		}
		if err != nil {
			return fmt.Errorf("load message: %w", err)
		}
		if m.SenderID != actorID {
			return domain.ErrForbidden
		}
		if r.Status != domain.RoomActive {
			return domain.ErrRoomClosed
		}
		if err := mutate(m); err != nil {
			return err
		}

		ref, name := attachmentArgs(m.Attachment)
		if _, err := tx.Exec(ctx, QueryUpdateMessage,
			roomID, messageID, m.Content, ref, name, optTime(m.EditedAt), m.IsEdited, m.IsDeleted,
		); err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListMessages(ctx context.Context, roomID string, page domain.MessagePage) ([]domain.ChatMessage, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	var afterSeq int64
	if page.AfterID != "" {
		err := s.db.QueryRow(ctx, QueryMessageSeq, roomID, page.AfterID).Scan(&afterSeq)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("resolve after id: %w", err)
		}
	}

	rows, err := s.db.Query(ctx, QueryListMessages, roomID, afterSeq, optTime(page.Since), optLimit(page.Limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
