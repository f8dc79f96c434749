package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cwrk-planet/deal-chat/internal/broadcast"
	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/metrics"
	"github.com/cwrk-planet/deal-chat/internal/pagination"
	"github.com/cwrk-planet/deal-chat/internal/protocol"
)

// Publisher — рассылка live-событий комнаты (broadcast.Hub).
type Publisher interface {
	Publish(roomID string, ev protocol.Event, exclude broadcast.Subscriber) int
}

// Notifier получает события жизненного цикла уже после записи в хранилище.
// Реализация обязана сама глотать свои ошибки.
type Notifier interface {
	OnMessage(ctx context.Context, room *domain.Room, msg *domain.ChatMessage)
	OnRoomOpened(ctx context.Context, room *domain.Room)
	OnRoomReopened(ctx context.Context, room *domain.Room)
	OnRoomClosed(ctx context.Context, room *domain.Room, actorID string)
}

const (
	DefaultMaxMessageLength = 4000
	DefaultPageSize         = 50
	ReopenedText            = "chat reopened"
)

type Options struct {
	MaxMessageLength int
	PageSize         int
	// Now — часы хранилища; nil означает time.Now.
	Now func() time.Time
}

// SendInput — сообщение от участника до валидации.
type SendInput struct {
	Content    string
	Kind       string
	Attachment *domain.Attachment
}

// RoomStore — единственный владелец комнат и сообщений. Каждая мутация сначала
// пишется в Repository и только потом уходит в Publisher и Notifier.
type RoomStore struct {
	repo     Repository
	pub      Publisher
	notifier Notifier

	maxLen   int
	pageSize int
	now      func() time.Time
}

func NewRoomStore(repo Repository, pub Publisher, notifier Notifier, opts Options) *RoomStore {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &RoomStore{
		repo:     repo,
		pub:      pub,
		notifier: notifier,
		maxLen:   opts.MaxMessageLength,
		pageSize: opts.PageSize,
		now:      opts.Now,
	}
}

func (s *RoomStore) clock() time.Time { return s.now().UTC() }

// GetOrCreate возвращает комнату покупателя по объявлению. Закрытая комната
// переоткрывается с тем же id и системным сообщением.
func (s *RoomStore) GetOrCreate(ctx context.Context, listingID, buyerID string) (*domain.Room, domain.RoomOutcome, error) {
	listingID = strings.TrimSpace(listingID)
	if buyerID == "" {
		return nil, domain.OutcomeExisting, domain.ErrUnauthorized
	}
	if listingID == "" {
		return nil, domain.OutcomeExisting, domain.Invalidf("listing id is required")
	}

	listing, err := s.repo.Listing(ctx, listingID)
	if err != nil {
		return nil, domain.OutcomeExisting, err
	}
	if listing.SellerID == buyerID {
		return nil, domain.OutcomeExisting, fmt.Errorf("%w: seller cannot open a chat on own listing", domain.ErrForbidden)
	}

	room, outcome, err := s.repo.GetOrCreateRoom(ctx, *listing, buyerID, s.clock())
	if err != nil {
		return nil, domain.OutcomeExisting, fmt.Errorf("get or create room: %w", err)
	}
	metrics.RoomsOpened.WithLabelValues(outcome.String()).Inc()

	switch outcome {
	case domain.OutcomeCreated:
		slog.Info("room created", "room", room.ID, "listing", room.ListingID, "buyer", buyerID)
		s.notifier.OnRoomOpened(ctx, room)
	case domain.OutcomeReopened:
		slog.Info("room reopened", "room", room.ID, "buyer", buyerID)
		s.appendSystem(ctx, room, ReopenedText)
		s.notifier.OnRoomReopened(ctx, room)
	}
	return room, outcome, nil
}

// appendSystem пишет системное сообщение и рассылает его. Ошибка не отменяет
// переоткрытие: комната уже active.
func (s *RoomStore) appendSystem(ctx context.Context, room *domain.Room, text string) {
	now := s.clock()
	msg := &domain.ChatMessage{
		ID:       domain.NewSortableID(now),
		RoomID:   room.ID,
		SenderID: domain.SystemActor,
		Kind:     domain.KindSystem,
		Content:  text,
	}
	if _, err := s.repo.AppendMessage(ctx, msg, now); err != nil {
		slog.Warn("system message not stored", "room", room.ID, "err", err)
		return
	}
	metrics.MessagesPersisted.WithLabelValues(string(msg.Kind)).Inc()
	s.pub.Publish(room.ID, protocol.MessageEvent(msg), nil)
}

// AppendMessage сохраняет сообщение участника, рассылает его в комнату и
// отдаёт диспетчеру уведомлений.
func (s *RoomStore) AppendMessage(ctx context.Context, roomID, senderID string, in SendInput) (*domain.ChatMessage, error) {
	if senderID == "" {
		return nil, domain.ErrUnauthorized
	}
	kind, err := domain.ParseMessageKind(in.Kind)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(in.Content)
	if err := s.checkLength(content); err != nil {
		return nil, err
	}

	var att *domain.Attachment
	if kind.NeedsAttachment() {
		if in.Attachment == nil || strings.TrimSpace(in.Attachment.Ref) == "" {
			return nil, domain.Invalidf("%s message requires an attachment", kind)
		}
		att = &domain.Attachment{Ref: strings.TrimSpace(in.Attachment.Ref), Name: in.Attachment.Name}
	} else {
		if in.Attachment != nil {
			return nil, domain.Invalidf("text message cannot carry an attachment")
		}
		if content == "" {
			return nil, domain.Invalidf("empty message")
		}
	}

	now := s.clock()
	msg := &domain.ChatMessage{
		ID:         domain.NewSortableID(now),
		RoomID:     roomID,
		SenderID:   senderID,
		Kind:       kind,
		Content:    content,
		Attachment: att,
	}
	room, err := s.repo.AppendMessage(ctx, msg, now)
	if err != nil {
		return nil, err
	}
	metrics.MessagesPersisted.WithLabelValues(string(kind)).Inc()

	s.pub.Publish(roomID, protocol.MessageEvent(msg), nil)
	s.notifier.OnMessage(ctx, room, msg)
	return msg, nil
}

func (s *RoomStore) checkLength(content string) error {
	if n := utf8.RuneCountInString(content); n > s.maxLen {
		return domain.Invalidf("message too long: %d > %d characters", n, s.maxLen)
	}
	return nil
}

// EditMessage меняет текст собственного сообщения в активной комнате.
func (s *RoomStore) EditMessage(ctx context.Context, roomID, messageID, actorID, content string) (*domain.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.Invalidf("empty message")
	}
	if err := s.checkLength(content); err != nil {
		return nil, err
	}

	now := s.clock()
	msg, err := s.repo.UpdateMessage(ctx, roomID, messageID, actorID, func(m *domain.ChatMessage) error {
		if m.IsDeleted {
			return domain.Invalidf("message was deleted")
		}
		if m.Kind != domain.KindText {
			return domain.Invalidf("only text messages can be edited")
		}
		m.Edit(content, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.pub.Publish(roomID, protocol.MessageEvent(msg), nil)
	return msg, nil
}

// DeleteMessage — мягкое удаление: запись остаётся, текст заменяется заглушкой.
// Повторное удаление ничего не меняет.
func (s *RoomStore) DeleteMessage(ctx context.Context, roomID, messageID, actorID string) (*domain.ChatMessage, error) {
	already := false
	msg, err := s.repo.UpdateMessage(ctx, roomID, messageID, actorID, func(m *domain.ChatMessage) error {
		already = m.IsDeleted
		m.SoftDelete()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !already {
		s.pub.Publish(roomID, protocol.MessageEvent(msg), nil)
	}
	return msg, nil
}

// MarkRead двигает курсор чтения к текущему времени; курсор не убывает.
func (s *RoomStore) MarkRead(ctx context.Context, roomID, userID string) (time.Time, error) {
	now := s.clock()
	at, err := s.repo.MarkRead(ctx, roomID, userID, now)
	if err != nil {
		return time.Time{}, err
	}
	s.touch(ctx, roomID, userID, now)
	s.pub.Publish(roomID, protocol.ReadEvent(roomID, userID, at), nil)
	return at, nil
}

// Close закрывает комнату от имени участника или system. Закрытие неактивной
// комнаты — no-op: changed=false, повторных событий нет.
func (s *RoomStore) Close(ctx context.Context, roomID, actorID string) (*domain.Room, bool, error) {
	if actorID == "" {
		return nil, false, domain.ErrUnauthorized
	}
	room, changed, err := s.repo.CloseRoom(ctx, roomID, actorID, s.clock())
	if err != nil {
		return nil, false, err
	}
	if changed {
		slog.Info("room closed", "room", roomID, "by", actorID)
		s.pub.Publish(roomID, protocol.ClosedEvent(room), nil)
		s.notifier.OnRoomClosed(ctx, room, actorID)
	}
	return room, changed, nil
}

// CloseIdle — условное закрытие для reaper: только если комната всё ещё active
// и покупатель не проявлял активности с cutoff.
func (s *RoomStore) CloseIdle(ctx context.Context, roomID string, cutoff time.Time) (*domain.Room, bool, error) {
	room, changed, err := s.repo.CloseIfIdle(ctx, roomID, cutoff, s.clock())
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.pub.Publish(roomID, protocol.ClosedEvent(room), nil)
		s.notifier.OnRoomClosed(ctx, room, domain.SystemActor)
	}
	return room, changed, nil
}

// IdleCandidates — активные комнаты, где покупатель молчит с cutoff.
func (s *RoomStore) IdleCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Room, error) {
	return s.repo.ListIdleRooms(ctx, cutoff, limit)
}

// Authorize возвращает комнату, если userID её участник.
func (s *RoomStore) Authorize(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsParticipant(userID) {
		return nil, domain.ErrForbidden
	}
	return room, nil
}

func (s *RoomStore) Get(ctx context.Context, roomID, userID string) (*domain.RoomSummary, error) {
	room, err := s.Authorize(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.UnreadCount(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	return &domain.RoomSummary{Room: *room, UnreadCount: unread}, nil
}

// UnreadCount — сообщения собеседника после курсора чтения userID, без удалённых.
func (s *RoomStore) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	if _, err := s.Authorize(ctx, roomID, userID); err != nil {
		return 0, err
	}
	return s.repo.UnreadCount(ctx, roomID, userID)
}

// ListForUser — комнаты пользователя по убыванию last_activity.
func (s *RoomStore) ListForUser(ctx context.Context, userID string, limit int, cursor string) ([]domain.RoomSummary, string, error) {
	if userID == "" {
		return nil, "", domain.ErrUnauthorized
	}
	if _, err := pagination.DecodeCursor(cursor); err != nil {
		return nil, "", domain.Invalidf("bad cursor")
	}
	limit = pagination.ClampLimit(limit, pagination.DefaultLimit, pagination.MaxLimit)
	return s.repo.ListRoomsForUser(ctx, userID, limit, cursor)
}

func (s *RoomStore) TotalUnread(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, domain.ErrUnauthorized
	}
	return s.repo.TotalUnread(ctx, userID)
}

// Messages — страница истории по возрастанию порядка, удалённые отдаются заглушками.
func (s *RoomStore) Messages(ctx context.Context, roomID, userID string, page domain.MessagePage) ([]domain.ChatMessage, error) {
	if _, err := s.Authorize(ctx, roomID, userID); err != nil {
		return nil, err
	}
	page.Limit = pagination.ClampLimit(page.Limit, s.pageSize, pagination.MaxLimit)
	return s.repo.ListMessages(ctx, roomID, page)
}

// TouchActivity отмечает активность покупателя (подключение, набор текста и т.п.).
// Для продавца ничего не делает.
func (s *RoomStore) TouchActivity(ctx context.Context, roomID, userID string) error {
	return s.repo.TouchBuyerActivity(ctx, roomID, userID, s.clock())
}

func (s *RoomStore) touch(ctx context.Context, roomID, userID string, now time.Time) {
	if err := s.repo.TouchBuyerActivity(ctx, roomID, userID, now); err != nil {
		slog.Warn("buyer activity not recorded", "room", roomID, "user", userID, "err", err)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, protocol.Event, broadcast.Subscriber) int { return 0 }

type nopNotifier struct{}

func (nopNotifier) OnMessage(context.Context, *domain.Room, *domain.ChatMessage) {}
func (nopNotifier) OnRoomOpened(context.Context, *domain.Room)                   {}
func (nopNotifier) OnRoomReopened(context.Context, *domain.Room)                 {}
func (nopNotifier) OnRoomClosed(context.Context, *domain.Room, string)           {}
