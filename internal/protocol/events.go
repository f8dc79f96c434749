package protocol

import (
	"time"

	"github.com/cwrk-planet/deal-chat/internal/domain"
)

// Типы событий сервер -> клиент
const (
	TypeMessage  = "message"
	TypePresence = "presence"
	TypeTyping   = "typing"
	TypeRead     = "read"
	TypeClosed   = "closed"
	TypeError    = "error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event — плоский JSON-кадр {type, ...}. Пустые поля не сериализуются.
type Event struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
	UserID string `json:"user_id,omitempty"`

	// message; seq задаёт порядок в комнате, рассылка может его не сохранить
	MessageID  string             `json:"message_id,omitempty"`
	Seq        int64              `json:"seq,omitempty"`
	SenderID   string             `json:"sender_id,omitempty"`
	Kind       domain.MessageKind `json:"kind,omitempty"`
	Content    string             `json:"content,omitempty"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
	Timestamp  *time.Time         `json:"timestamp,omitempty"`
	IsEdited   bool               `json:"is_edited,omitempty"`
	IsDeleted  bool               `json:"is_deleted,omitempty"`

	// presence / closed
	Status   string `json:"status,omitempty"`
	ClosedBy string `json:"closed_by,omitempty"`

	// typing
	IsTyping *bool `json:"is_typing,omitempty"`

	// read
	ReadAt *time.Time `json:"read_at,omitempty"`

	// error
	Code  string `json:"code,omitempty"`
	Error string `json:"message,omitempty"`
}

func MessageEvent(m *domain.ChatMessage) Event {
	ts := m.CreatedAt
	return Event{
		Type:       TypeMessage,
		RoomID:     m.RoomID,
		MessageID:  m.ID,
		Seq:        m.Seq,
		SenderID:   m.SenderID,
		Kind:       m.Kind,
		Content:    m.Content,
		Attachment: m.Attachment,
		Timestamp:  &ts,
		IsEdited:   m.IsEdited,
		IsDeleted:  m.IsDeleted,
	}
}

func PresenceEvent(roomID, userID string, online bool) Event {
	status := StatusOffline
	if online {
		status = StatusOnline
	}
	return Event{Type: TypePresence, RoomID: roomID, UserID: userID, Status: status}
}

func TypingEvent(roomID, userID string, typing bool) Event {
	return Event{Type: TypeTyping, RoomID: roomID, UserID: userID, IsTyping: &typing}
}

func ReadEvent(roomID, userID string, at time.Time) Event {
	return Event{Type: TypeRead, RoomID: roomID, UserID: userID, ReadAt: &at}
}

func ClosedEvent(room *domain.Room) Event {
	ev := Event{Type: TypeClosed, RoomID: room.ID, Status: string(room.Status)}
	if room.ClosedBy != nil {
		ev.ClosedBy = *room.ClosedBy
	}
	return ev
}

// ErrorEvent — ответ только вызывающему. Текст для DependencyFailure не раскрывает деталей.
func ErrorEvent(err error) Event {
	class := domain.Classify(err)
	msg := err.Error()
	if class == domain.ClassDependency {
		msg = "service temporarily unavailable"
	}
	return Event{Type: TypeError, Code: string(class), Error: msg}
}
