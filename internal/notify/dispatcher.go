package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/metrics"
	"github.com/cwrk-planet/deal-chat/internal/service"
)

const (
	DefaultPreviewLength = 100
	writeTimeout         = 5 * time.Second
)

// Store — то, что диспетчеру нужно от хранилища.
type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	User(ctx context.Context, userID string) (*domain.User, error)
	Listing(ctx context.Context, listingID string) (*domain.Listing, error)
}

// Dispatcher превращает события комнат в записи notifications для внешнего
// отправителя. Ошибки пишутся в лог и не возвращаются вызывающему.
type Dispatcher struct {
	store      Store
	previewLen int
	now        func() time.Time
}

var _ service.Notifier = (*Dispatcher)(nil)

func NewDispatcher(store Store, previewLen int) *Dispatcher {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLength
	}
	return &Dispatcher{store: store, previewLen: previewLen, now: time.Now}
}

// OnMessage — уведомление собеседнику отправителя.
func (d *Dispatcher) OnMessage(ctx context.Context, room *domain.Room, msg *domain.ChatMessage) {
	recipient := room.Counterpart(msg.SenderID)
	if recipient == "" {
		return
	}
	msgID := msg.ID
	d.create(ctx, &domain.Notification{
		RecipientID: recipient,
		RoomID:      room.ID,
		MessageID:   &msgID,
		Kind:        domain.NotifyNewMessage,
		Title:       fmt.Sprintf("New message from %s", d.displayName(ctx, msg.SenderID)),
		Body:        Preview(messageText(msg), d.previewLen),
	})
}

// OnRoomOpened — продавцу о новом чате по объявлению.
func (d *Dispatcher) OnRoomOpened(ctx context.Context, room *domain.Room) {
	d.create(ctx, &domain.Notification{
		RecipientID: room.SellerID,
		RoomID:      room.ID,
		Kind:        domain.NotifyRoomOpened,
		Title:       fmt.Sprintf("New chat about %s", d.listingTitle(ctx, room.ListingID)),
		Body:        fmt.Sprintf("%s started a conversation about your listing.", d.displayName(ctx, room.BuyerID)),
	})
}

// OnRoomReopened — продавцу о том, что покупатель вернулся в закрытый чат.
func (d *Dispatcher) OnRoomReopened(ctx context.Context, room *domain.Room) {
	d.create(ctx, &domain.Notification{
		RecipientID: room.SellerID,
		RoomID:      room.ID,
		Kind:        domain.NotifyRoomReopened,
		Title:       fmt.Sprintf("Chat about %s was reopened", d.listingTitle(ctx, room.ListingID)),
		Body:        fmt.Sprintf("%s reopened the conversation.", d.displayName(ctx, room.BuyerID)),
	})
}

// OnRoomClosed — собеседнику закрывшего; при автозакрытии — обоим участникам.
func (d *Dispatcher) OnRoomClosed(ctx context.Context, room *domain.Room, actorID string) {
	title := fmt.Sprintf("Chat about %s was closed", d.listingTitle(ctx, room.ListingID))

	if actorID == domain.SystemActor {
		for _, uid := range []string{room.BuyerID, room.SellerID} {
			d.create(ctx, &domain.Notification{
				RecipientID: uid,
				RoomID:      room.ID,
				Kind:        domain.NotifyRoomClosed,
				Title:       title,
				Body:        "The chat was closed after a period of inactivity.",
			})
		}
		return
	}

	recipient := room.Counterpart(actorID)
	if recipient == "" {
		return
	}
	d.create(ctx, &domain.Notification{
		RecipientID: recipient,
		RoomID:      room.ID,
		Kind:        domain.NotifyRoomClosed,
		Title:       title,
		Body:        fmt.Sprintf("%s closed the chat.", d.displayName(ctx, actorID)),
	})
}

func (d *Dispatcher) create(ctx context.Context, n *domain.Notification) {
	// запись уведомления не должна обрываться вместе с соединением отправителя
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	n.CreatedAt = d.now().UTC()
	if err := d.store.CreateNotification(ctx, n); err != nil {
		metrics.NotificationsFailed.WithLabelValues(string(n.Kind)).Inc()
		slog.Warn("notification not created",
			"kind", n.Kind, "room", n.RoomID, "recipient", n.RecipientID, "err", err)
		return
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Kind)).Inc()
}

func (d *Dispatcher) displayName(ctx context.Context, userID string) string {
	u, err := d.store.User(ctx, userID)
	if err != nil || u.DisplayName == "" {
		if err != nil {
			slog.Debug("display name lookup failed", "user", userID, "err", err)
		}
		return userID
	}
	return u.DisplayName
}

func (d *Dispatcher) listingTitle(ctx context.Context, listingID string) string {
	l, err := d.store.Listing(ctx, listingID)
	if err != nil || l.Title == "" {
		return "listing " + listingID
	}
	return l.Title
}

func messageText(m *domain.ChatMessage) string {
	if m.Content != "" {
		return m.Content
	}
	if m.Attachment != nil && m.Attachment.Name != "" {
		return fmt.Sprintf("[%s: %s]", m.Kind, m.Attachment.Name)
	}
	return fmt.Sprintf("[%s]", m.Kind)
}

// Preview обрезает текст до n символов (рун) и добавляет "..." если обрезал.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
