package domain

import "time"

// SystemActor — отправитель системных сообщений и closed_by при автозакрытии.
const SystemActor = "system"

type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomClosed   RoomStatus = "closed"
	RoomArchived RoomStatus = "archived"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case RoomActive, RoomClosed, RoomArchived:
		return true
	}
	return false
}

// Room — переписка покупателя и продавца по одному объявлению.
// Пара (ListingID, BuyerID) уникальна.
type Room struct {
	ID                string     `db:"id" json:"id"`
	ListingID         string     `db:"listing_id" json:"listing_id"`
	BuyerID           string     `db:"buyer_id" json:"buyer_id"`
	SellerID          string     `db:"seller_id" json:"seller_id"`
	Status            RoomStatus `db:"status" json:"status"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	LastActivity      time.Time  `db:"last_activity" json:"last_activity"`
	BuyerLastActivity time.Time  `db:"buyer_last_activity" json:"buyer_last_activity"`
	ClosedAt          *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	ClosedBy          *string    `db:"closed_by" json:"closed_by,omitempty"`
	BuyerLastRead     *time.Time `db:"buyer_last_read" json:"buyer_last_read,omitempty"`
	SellerLastRead    *time.Time `db:"seller_last_read" json:"seller_last_read,omitempty"`
	MessageSeq        int64      `db:"message_seq" json:"message_seq"`
	LastMessageAt     *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
}

func (r *Room) IsParticipant(userID string) bool {
	return userID != "" && (userID == r.BuyerID || userID == r.SellerID)
}

func (r *Room) IsBuyer(userID string) bool { return userID != "" && userID == r.BuyerID }

// Counterpart возвращает второго участника; "" если userID не участник.
func (r *Room) Counterpart(userID string) string {
	switch userID {
	case r.BuyerID:
		return r.SellerID
	case r.SellerID:
		return r.BuyerID
	default:
		return ""
	}
}

// LastReadFor — курсор чтения участника (nil если ещё не читал).
func (r *Room) LastReadFor(userID string) *time.Time {
	switch userID {
	case r.BuyerID:
		return r.BuyerLastRead
	case r.SellerID:
		return r.SellerLastRead
	default:
		return nil
	}
}

// ReadCursor — курсор после mark_read в момент now. Не убывает и не отстаёт
// от последнего сообщения: NextMessageTime может увести его время за now.
func (r *Room) ReadCursor(userID string, now time.Time) time.Time {
	next := now
	if prev := r.LastReadFor(userID); prev != nil && prev.After(next) {
		next = *prev
	}
	if r.LastMessageAt != nil && r.LastMessageAt.After(next) {
		next = *r.LastMessageAt
	}
	return next
}

// Reopen переводит закрытую комнату в active и сбрасывает поля закрытия.
func (r *Room) Reopen(now time.Time) {
	r.Status = RoomActive
	r.ClosedAt = nil
	r.ClosedBy = nil
	r.BuyerLastActivity = now
	r.LastActivity = now
}

// Close проставляет статус и автора закрытия.
func (r *Room) Close(actorID string, now time.Time) {
	r.Status = RoomClosed
	r.ClosedAt = &now
	actor := actorID
	r.ClosedBy = &actor
}

// NextMessageTime выдаёт строго возрастающее время для следующего сообщения.
// Точность — микросекунды, как у timestamptz.
func (r *Room) NextMessageTime(now time.Time) time.Time {
	t := now.UTC().Truncate(time.Microsecond)
	if r.LastMessageAt != nil && !t.After(*r.LastMessageAt) {
		t = r.LastMessageAt.Add(time.Microsecond)
	}
	return t
}

// RoomOutcome — чем закончился GetOrCreate.
type RoomOutcome int

const (
	OutcomeExisting RoomOutcome = iota
	OutcomeCreated
	OutcomeReopened
)

func (o RoomOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeReopened:
		return "reopened"
	default:
		return "existing"
	}
}

// RoomSummary — комната в списке пользователя.
type RoomSummary struct {
	Room        Room `json:"room"`
	UnreadCount int  `json:"unread_count"`
}

type Listing struct {
	ID       string `db:"id"`
	SellerID string `db:"seller_id"`
	Title    string `db:"title"`
}

type User struct {
	ID          string `db:"id"`
	DisplayName string `db:"display_name"`
}
