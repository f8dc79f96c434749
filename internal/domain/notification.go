package domain

import "time"

type NotificationKind string

const (
	NotifyNewMessage   NotificationKind = "new_message"
	NotifyRoomOpened   NotificationKind = "room_opened"
	NotifyRoomClosed   NotificationKind = "room_closed"
	NotifyRoomReopened NotificationKind = "room_reopened"
)

// Notification — запись для внешнего отправителя (email/push). Сервис её только создаёт.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	RoomID      string           `db:"room_id" json:"room_id"`
	MessageID   *string          `db:"message_id" json:"message_id,omitempty"`
	Kind        NotificationKind `db:"kind" json:"kind"`
	Title       string           `db:"title" json:"title"`
	Body        string           `db:"body" json:"body"`
	IsRead      bool             `db:"is_read" json:"is_read"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	ReadAt      *time.Time       `db:"read_at" json:"read_at,omitempty"`
}
