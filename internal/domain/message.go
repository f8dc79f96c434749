package domain

import (
	"strings"
	"time"
)

// DeletedPlaceholder заменяет текст мягко удалённого сообщения.
const DeletedPlaceholder = "[message deleted]"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// ParseMessageKind разбирает вид сообщения от клиента; пустое значение — text.
// system клиенту недоступен.
func ParseMessageKind(s string) (MessageKind, error) {
	switch k := MessageKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindText, nil
	case KindText, KindImage, KindFile:
		return k, nil
	default:
		return "", Invalidf("unsupported message kind %q", s)
	}
}

// NeedsAttachment — image/file обязаны нести ссылку на вложение.
func (k MessageKind) NeedsAttachment() bool {
	return k == KindImage || k == KindFile
}

// Attachment — непрозрачная ссылка на blob; содержимое сервис не трогает.
type Attachment struct {
	Ref  string `json:"ref"`
	Name string `json:"name,omitempty"`
}

type ChatMessage struct {
	ID         string      `db:"id" json:"id"`
	RoomID     string      `db:"room_id" json:"room_id"`
	Seq        int64       `db:"seq" json:"seq"`
	SenderID   string      `db:"sender_id" json:"sender_id"`
	Kind       MessageKind `db:"kind" json:"kind"`
	Content    string      `db:"content" json:"content"`
	Attachment *Attachment `db:"-" json:"attachment,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	EditedAt   *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	IsEdited   bool        `db:"is_edited" json:"is_edited"`
	IsDeleted  bool        `db:"is_deleted" json:"is_deleted"`
}

// Edit меняет текст и отмечает правку.
func (m *ChatMessage) Edit(content string, now time.Time) {
	m.Content = content
	m.EditedAt = &now
	m.IsEdited = true
}

// SoftDelete оставляет запись для порядка, но затирает содержимое.
func (m *ChatMessage) SoftDelete() {
	m.IsDeleted = true
	m.Content = DeletedPlaceholder
	m.Attachment = nil
}

// CountsAsUnreadFor — входит ли сообщение в счётчик непрочитанных userID при курсоре lastRead.
func (m *ChatMessage) CountsAsUnreadFor(userID string, lastRead *time.Time) bool {
	if m.IsDeleted || m.SenderID == userID {
		return false
	}
	return lastRead == nil || m.CreatedAt.After(*lastRead)
}
