package http

import (
	"time"

	"github.com/cwrk-planet/deal-chat/internal/domain"
)

type OpenRoomResponse struct {
	Room    *domain.Room `json:"room"`
	Outcome string       `json:"outcome"` // created|existing|reopened
}

type RoomsListResponse struct {
	Items      []domain.RoomSummary `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type UnreadResponse struct {
	UnreadCount int `json:"unread_count"`
}

type MessagesResponse struct {
	Items []domain.ChatMessage `json:"items"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type ReadResponse struct {
	RoomID string    `json:"room_id"`
	ReadAt time.Time `json:"read_at"`
}

type CloseResponse struct {
	Room    *domain.Room `json:"room"`
	Changed bool         `json:"changed"`
}

type PresenceResponse struct {
	RoomID string          `json:"room_id"`
	Online map[string]bool `json:"online"` // участник -> онлайн
}
