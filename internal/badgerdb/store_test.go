package badgerdb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/deal-chat/internal/domain"
)

var listing = domain.Listing{ID: "lst-1", SellerID: "seller", Title: "Bike"}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.PutListing(context.Background(), listing))
	return s
}

func textMsg(roomID, sender, content string) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:       domain.NewSortableID(time.Now()),
		RoomID:   roomID,
		SenderID: sender,
		Kind:     domain.KindText,
		Content:  content,
	}
}

func Test_GetOrCreate_Concurrent_Converges(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	created := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, out, err := s.GetOrCreateRoom(ctx, listing, "buyer", time.Now())
			req.NoError(err)
			ids[i] = r.ID
			created[i] = out == domain.OutcomeCreated
		}(i)
	}
	wg.Wait()

	nCreated := 0
	for i := range ids {
		req.Equal(ids[0], ids[i])
		if created[i] {
			nCreated++
		}
	}
	req.Equal(1, nCreated)
}

func Test_Reopen_Keeps_Room_ID(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	r, out, err := s.GetOrCreateRoom(ctx, listing, "buyer", now)
	req.NoError(err)
	req.Equal(domain.OutcomeCreated, out)

	closed, changed, err := s.CloseRoom(ctx, r.ID, "seller", now.Add(time.Second))
	req.NoError(err)
	req.True(changed)
	req.Equal(domain.RoomClosed, closed.Status)
	req.Equal("seller", *closed.ClosedBy)

	again, out, err := s.GetOrCreateRoom(ctx, listing, "buyer", now.Add(2*time.Second))
	req.NoError(err)
	req.Equal(domain.OutcomeReopened, out)
	req.Equal(r.ID, again.ID)
	req.Equal(domain.RoomActive, again.Status)
	req.Nil(again.ClosedAt)
	req.Nil(again.ClosedBy)
}

func Test_Close_Twice_Is_Noop(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()

	r, _, err := s.GetOrCreateRoom(ctx, listing, "buyer", time.Now())
	req.NoError(err)
	_, changed, err := s.CloseRoom(ctx, r.ID, "buyer", time.Now())
	req.NoError(err)
	req.True(changed)
	_, changed, err = s.CloseRoom(ctx, r.ID, "seller", time.Now())
	req.NoError(err)
	req.False(changed)

	_, _, err = s.CloseRoom(ctx, r.ID, "stranger", time.Now())
	req.ErrorIs(err, domain.ErrForbidden)
}

func Test_Append_Strictly_Increasing_CreatedAt(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()

	r, _, err := s.GetOrCreateRoom(ctx, listing, "buyer", time.Now())
	req.NoError(err)

	// одинаковые часы: порядок всё равно строгий
	frozen := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, textMsg(r.ID, "buyer", fmt.Sprintf("m%d", i)), frozen)
		req.NoError(err)
	}

	msgs, err := s.ListMessages(ctx, r.ID, domain.MessagePage{})
	req.NoError(err)
	req.Len(msgs, 5)
	for i := 1; i < len(msgs); i++ {
		req.True(msgs[i].CreatedAt.After(msgs[i-1].CreatedAt))
		req.Equal(msgs[i-1].Seq+1, msgs[i].Seq)
		req.Equal(fmt.Sprintf("m%d", i), msgs[i].Content)
	}
}

func Test_Append_Rejects_Closed_And_Strangers(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()

	r, _, err := s.GetOrCreateRoom(ctx, listing, "buyer", time.Now())
	req.NoError(err)

	_, err = s.AppendMessage(ctx, textMsg(r.ID, "stranger", "hi"), time.Now())
	req.ErrorIs(err, domain.ErrForbidden)

	_, _, err = s.CloseRoom(ctx, r.ID, "seller", time.Now())
	req.NoError(err)
	_, err = s.AppendMessage(ctx, textMsg(r.ID, "buyer", "hi"), time.Now())
	req.ErrorIs(err, domain.ErrRoomClosed)

	msgs, err := s.ListMessages(ctx, r.ID, domain.MessagePage{})
	req.NoError(err)
	req.Empty(msgs)

	_, err = s.AppendMessage(ctx, textMsg("missing", "buyer", "hi"), time.Now())
	req.ErrorIs(err, domain.ErrNotFound)
}

func Test_Unread_And_MarkRead(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	r, _, err := s.GetOrCreateRoom(ctx, listing, "buyer", t0)
	req.NoError(err)
	for i := 0; i < 3; i++ {
		_, err := s.AppendMessage(ctx, textMsg(r.ID, "buyer", "q"), t0.Add(time.Duration(i)*time.Second))
		req.NoError(err)
	}
	_, err = s.AppendMessage(ctx, textMsg(r.ID, "seller", "a"), t0.Add(4*time.Second))
	req.NoError(err)

	n, err := s.UnreadCount(ctx, r.ID, "seller")
	req.NoError(err)
	req.Equal(3, n)
	n, err = s.UnreadCount(ctx, r.ID, "buyer")
	req.NoError(err)
	req.Equal(1, n)

	at, err := s.MarkRead(ctx, r.ID, "seller", t0.Add(10*time.Second))
	req.NoError(err)
	n, err = s.UnreadCount(ctx, r.ID, "seller")
	req.NoError(err)
	req.Zero(n)

	// курсор не откатывается
	back, err := s.MarkRead(ctx, r.ID, "seller", t0)
	req.NoError(err)
	req.True(at.Equal(back))

	total, err := s.TotalUnread(ctx, "buyer")
	req.NoError(err)
	req.Equal(1, total)

	_, err = s.MarkRead(ctx, r.ID, "stranger", t0)
	req.ErrorIs(err, domain.ErrForbidden)
}

func Test_Deleted_Message_Not_Unread(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()

	r, _, err := s.GetOrCreateRoom(ctx, listing, "buyer", time.Now())
	req.NoError(err)
	m := textMsg(r.ID, "buyer", "oops")
	_, err = s.AppendMessage(ctx, m, time.Now())
	req.NoError(err)

	_, err = s.UpdateMessage(ctx, r.ID, m.ID, "seller", func(cm *domain.ChatMessage) error {
		cm.SoftDelete()
		return nil
	})
	req.ErrorIs(err, domain.ErrForbidden)

	deleted, err := s.UpdateMessage(ctx, r.ID, m.ID, "buyer", func(cm *domain.ChatMessage) error {
		cm.SoftDelete()
		return nil
	})
	req.NoError(err)
	req.True(deleted.IsDeleted)
	req.Equal(domain.DeletedPlaceholder, deleted.Content)

	n, err := s.UnreadCount(ctx, r.ID, "seller")
	req.NoError(err)
	req.Zero(n)

	_, err = s.UpdateMessage(ctx, r.ID, "nope", "buyer", func(*domain.ChatMessage) error { return nil })
	req.ErrorIs(err, domain.ErrMessageNotFound)
}

func Test_ListMessages_After_And_Since(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	r, _, err := s.GetOrCreateRoom(ctx, listing, "buyer", t0)
	req.NoError(err)
	var ids []string
	for i := 0; i < 5; i++ {
		m := textMsg(r.ID, "buyer", fmt.Sprintf("m%d", i))
		_, err := s.AppendMessage(ctx, m, t0.Add(time.Duration(i)*time.Second))
		req.NoError(err)
		ids = append(ids, m.ID)
	}

	page, err := s.ListMessages(ctx, r.ID, domain.MessagePage{AfterID: ids[1], Limit: 2})
	req.NoError(err)
	req.Len(page, 2)
	req.Equal(ids[2], page[0].ID)
	req.Equal(ids[3], page[1].ID)

	since := page[1].CreatedAt
	page, err = s.ListMessages(ctx, r.ID, domain.MessagePage{Since: &since})
	req.NoError(err)
	req.Len(page, 1)
	req.Equal(ids[4], page[0].ID)

	_, err = s.ListMessages(ctx, r.ID, domain.MessagePage{AfterID: "unknown"})
	req.ErrorIs(err, domain.ErrMessageNotFound)
}

func Test_CloseIfIdle_Is_Conditional(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	r, _, err := s.GetOrCreateRoom(ctx, listing, "buyer", t0)
	req.NoError(err)

	cutoff := t0.Add(5 * time.Minute)
	idle, err := s.ListIdleRooms(ctx, cutoff, 10)
	req.NoError(err)
	req.Len(idle, 1)

	// покупатель успел проявить активность после выборки кандидатов
	req.NoError(s.TouchBuyerActivity(ctx, r.ID, "buyer", cutoff.Add(time.Second)))
	_, changed, err := s.CloseIfIdle(ctx, r.ID, cutoff, cutoff.Add(2*time.Second))
	req.NoError(err)
	req.False(changed)

	// продавец не продлевает жизнь комнаты
	req.NoError(s.TouchBuyerActivity(ctx, r.ID, "seller", cutoff.Add(time.Hour)))
	later := cutoff.Add(10 * time.Minute)
	room, changed, err := s.CloseIfIdle(ctx, r.ID, later, later)
	req.NoError(err)
	req.True(changed)
	req.Equal(domain.RoomClosed, room.Status)
	req.Equal(domain.SystemActor, *room.ClosedBy)

	idle, err = s.ListIdleRooms(ctx, later.Add(time.Hour), 10)
	req.NoError(err)
	req.Empty(idle)
}

func Test_ListRoomsForUser_Pages(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	for i := 0; i < 3; i++ {
		l := domain.Listing{ID: fmt.Sprintf("l%d", i), SellerID: "seller"}
		req.NoError(s.PutListing(ctx, l))
		_, _, err := s.GetOrCreateRoom(ctx, l, "buyer", t0.Add(time.Duration(i)*time.Second))
		req.NoError(err)
	}

	first, next, err := s.ListRoomsForUser(ctx, "seller", 2, "")
	req.NoError(err)
	req.Len(first, 2)
	req.NotEmpty(next)
	req.Equal("l2", first[0].Room.ListingID)

	rest, next, err := s.ListRoomsForUser(ctx, "seller", 2, next)
	req.NoError(err)
	req.Len(rest, 1)
	req.Empty(next)
	req.Equal("l0", rest[0].Room.ListingID)

	_, _, err = s.ListRoomsForUser(ctx, "seller", 2, "%%%")
	req.ErrorIs(err, domain.ErrInvalidPayload)
}

func Test_Notifications_Recipient_Only(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	for i := 0; i < 3; i++ {
		req.NoError(s.CreateNotification(ctx, &domain.Notification{
			RecipientID: "seller",
			RoomID:      "room",
			Kind:        domain.NotifyNewMessage,
			Title:       "New message",
			CreatedAt:   t0.Add(time.Duration(i) * time.Second),
		}))
	}

	list, next, err := s.ListNotifications(ctx, "seller", domain.NotificationPage{Limit: 2})
	req.NoError(err)
	req.Len(list, 2)
	req.NotEmpty(next)
	req.True(list[0].CreatedAt.After(list[1].CreatedAt))

	n, err := s.CountUnreadNotifications(ctx, "seller")
	req.NoError(err)
	req.Equal(3, n)

	_, err = s.MarkNotificationRead(ctx, "buyer", list[0].ID, t0)
	req.ErrorIs(err, domain.ErrNotificationNotFound)

	read, err := s.MarkNotificationRead(ctx, "seller", list[0].ID, t0)
	req.NoError(err)
	req.True(read.IsRead)

	unread, _, err := s.ListNotifications(ctx, "seller", domain.NotificationPage{UnreadOnly: true})
	req.NoError(err)
	req.Len(unread, 2)
}

func Test_Directory_Lookups(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()

	req.NoError(s.Seed(ctx, nil, []domain.User{{ID: "seller", DisplayName: "Sam"}}))
	u, err := s.User(ctx, "seller")
	req.NoError(err)
	req.Equal("Sam", u.DisplayName)

	_, err = s.User(ctx, "ghost")
	req.ErrorIs(err, domain.ErrUserNotFound)
	_, err = s.Listing(ctx, "ghost")
	req.ErrorIs(err, domain.ErrListingNotFound)
}

func Test_MarkRead_Reaches_Last_Message(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()
	frozen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	r, _, err := s.GetOrCreateRoom(ctx, listing, "buyer", frozen)
	req.NoError(err)
	var last *domain.ChatMessage
	for i := 0; i < 3; i++ {
		last = textMsg(r.ID, "buyer", "hi")
		_, err := s.AppendMessage(ctx, last, frozen)
		req.NoError(err)
	}
	req.True(last.CreatedAt.After(frozen))

	cursor, err := s.MarkRead(ctx, r.ID, "seller", frozen)
	req.NoError(err)
	req.True(cursor.Equal(last.CreatedAt))
	n, err := s.UnreadCount(ctx, r.ID, "seller")
	req.NoError(err)
	req.Zero(n)
}

func Test_GetRoom_Rejects_Unknown_Status(t *testing.T) {
	req := require.New(t)
	s := newStore(t)
	ctx := context.Background()

	r, _, err := s.GetOrCreateRoom(ctx, listing, "buyer", time.Now())
	req.NoError(err)
	r.Status = "frozen"
	req.NoError(s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, roomKey(r.ID), r)
	}))

	_, err = s.GetRoom(ctx, r.ID)
	req.ErrorContains(err, `unknown status "frozen"`)
}
