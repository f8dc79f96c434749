package service

import (
	"context"
	"time"

	"github.com/cwrk-planet/deal-chat/internal/domain"
)

// RoomRepository — комнаты и курсоры чтения. Методы, проверяющие инварианты,
// обязаны быть атомарными (транзакция или эквивалентная блокировка комнаты).
type RoomRepository interface {
	// GetOrCreateRoom находит комнату пары (listing, buyer) или создаёт её;
	// закрытую переоткрывает.
	GetOrCreateRoom(ctx context.Context, listing domain.Listing, buyerID string, now time.Time) (*domain.Room, domain.RoomOutcome, error)
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	ListRoomsForUser(ctx context.Context, userID string, limit int, cursor string) ([]domain.RoomSummary, string, error)
	TotalUnread(ctx context.Context, userID string) (int, error)
	UnreadCount(ctx context.Context, roomID, userID string) (int, error)
	// MarkRead двигает курсор только вперёд и возвращает итоговое значение.
	MarkRead(ctx context.Context, roomID, userID string, at time.Time) (time.Time, error)
	// CloseRoom закрывает активную комнату; changed=false если она уже не active.
	CloseRoom(ctx context.Context, roomID, actorID string, now time.Time) (room *domain.Room, changed bool, err error)
	// CloseIfIdle закрывает комнату от имени system, только если она active и
	// buyer_last_activity < cutoff — одной атомарной операцией.
	CloseIfIdle(ctx context.Context, roomID string, cutoff, now time.Time) (*domain.Room, bool, error)
	ListIdleRooms(ctx context.Context, cutoff time.Time, limit int) ([]domain.Room, error)
	TouchBuyerActivity(ctx context.Context, roomID, buyerID string, now time.Time) error
}

// MessageRepository — сообщения комнаты.
type MessageRepository interface {
	// AppendMessage атомарно проверяет статус и участника, присваивает seq и
	// строго возрастающий created_at, двигает last_activity.
	AppendMessage(ctx context.Context, msg *domain.ChatMessage, now time.Time) (*domain.Room, error)
	// UpdateMessage применяет mutate к сообщению автора actorID в активной комнате.
	// Ошибка mutate отменяет изменение и возвращается как есть.
	UpdateMessage(ctx context.Context, roomID, messageID, actorID string, mutate func(*domain.ChatMessage) error) (*domain.ChatMessage, error)
	ListMessages(ctx context.Context, roomID string, page domain.MessagePage) ([]domain.ChatMessage, error)
}

// NotificationRepository — записи для внешнего отправителя уведомлений.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, recipientID string, page domain.NotificationPage) ([]domain.Notification, string, error)
	CountUnreadNotifications(ctx context.Context, recipientID string) (int, error)
	MarkNotificationRead(ctx context.Context, recipientID, notificationID string, now time.Time) (*domain.Notification, error)
}

// ListingRegistry — внешний реестр объявлений: владелец и существование.
type ListingRegistry interface {
	Listing(ctx context.Context, listingID string) (*domain.Listing, error)
}

// Directory — справочник пользователей (отображаемые имена).
type Directory interface {
	User(ctx context.Context, userID string) (*domain.User, error)
}

// Repository — всё, что сервису нужно от хранилища. Реализуют postgres и badgerdb.
type Repository interface {
	RoomRepository
	MessageRepository
	NotificationRepository
	ListingRegistry
	Directory
}
