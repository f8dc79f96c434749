package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/deal-chat/internal/badgerdb"
	"github.com/cwrk-planet/deal-chat/internal/broadcast"
	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/protocol"
	"github.com/cwrk-planet/deal-chat/internal/service"
)

type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
	calls  []string
}

func (r *recorder) Publish(_ string, ev protocol.Event, _ broadcast.Subscriber) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return 1
}

func (r *recorder) note(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) OnMessage(context.Context, *domain.Room, *domain.ChatMessage) { r.note("message") }
func (r *recorder) OnRoomOpened(context.Context, *domain.Room)                   { r.note("opened") }
func (r *recorder) OnRoomReopened(context.Context, *domain.Room)                 { r.note("reopened") }
func (r *recorder) OnRoomClosed(_ context.Context, _ *domain.Room, actor string) { r.note("closed:" + actor) }

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store *service.RoomStore
	repo  *badgerdb.Store
	rec   *recorder
	clock *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := badgerdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Seed(context.Background(),
		[]domain.Listing{{ID: "lst", SellerID: "seller", Title: "Bike"}}, nil))

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{repo: repo, rec: &recorder{}, clock: &now}
	f.store = service.NewRoomStore(repo, f.rec, f.rec, service.Options{
		MaxMessageLength: 20,
		Now:              func() time.Time { return *f.clock },
	})
	return f
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func Test_GetOrCreate_Rules(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.store.GetOrCreate(ctx, "lst", "seller")
	req.ErrorIs(err, domain.ErrForbidden)

	_, _, err = f.store.GetOrCreate(ctx, "nope", "buyer")
	req.ErrorIs(err, domain.ErrListingNotFound)

	r, out, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	req.Equal(domain.OutcomeCreated, out)

	same, out, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	req.Equal(domain.OutcomeExisting, out)
	req.Equal(r.ID, same.ID)

	req.Equal([]string{"opened"}, f.rec.calls)
}

func Test_Reopen_Appends_System_Message(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	r, _, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	_, changed, err := f.store.Close(ctx, r.ID, "seller")
	req.NoError(err)
	req.True(changed)

	f.advance(time.Minute)
	again, out, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	req.Equal(domain.OutcomeReopened, out)
	req.Equal(r.ID, again.ID)

	msgs, err := f.store.Messages(ctx, r.ID, "buyer", domain.MessagePage{})
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(domain.KindSystem, msgs[0].Kind)
	req.Equal(domain.SystemActor, msgs[0].SenderID)
	req.Equal(service.ReopenedText, msgs[0].Content)

	req.Equal([]string{"opened", "closed:seller", "reopened"}, f.rec.calls)
	req.Equal([]string{protocol.TypeClosed, protocol.TypeMessage}, f.rec.types())
}

func Test_Append_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, _, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   service.SendInput
		want error
	}{
		{"empty", service.SendInput{Content: "   "}, domain.ErrInvalidPayload},
		{"too long", service.SendInput{Content: strings.Repeat("я", 21)}, domain.ErrInvalidPayload},
		{"system kind", service.SendInput{Content: "x", Kind: "system"}, domain.ErrInvalidPayload},
		{"image without ref", service.SendInput{Kind: "image"}, domain.ErrInvalidPayload},
		{"text with attachment", service.SendInput{Content: "x", Attachment: &domain.Attachment{Ref: "blob"}}, domain.ErrInvalidPayload},
		{"ok at limit", service.SendInput{Content: strings.Repeat("я", 20)}, nil},
		{"image", service.SendInput{Kind: "image", Attachment: &domain.Attachment{Ref: "blob://1", Name: "a.png"}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.store.AppendMessage(ctx, r.ID, "buyer", tc.in)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func Test_Append_Publishes_Then_Notifies(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	r, _, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)

	msg, err := f.store.AppendMessage(ctx, r.ID, "buyer", service.SendInput{Content: " hello "})
	req.NoError(err)
	req.Equal("hello", msg.Content)
	req.Equal(int64(1), msg.Seq)
	req.Equal([]string{protocol.TypeMessage}, f.rec.types())
	req.Equal([]string{"opened", "message"}, f.rec.calls)

	_, err = f.store.AppendMessage(ctx, r.ID, "stranger", service.SendInput{Content: "hi"})
	req.ErrorIs(err, domain.ErrForbidden)

	_, _, err = f.store.Close(ctx, r.ID, "buyer")
	req.NoError(err)
	_, err = f.store.AppendMessage(ctx, r.ID, "seller", service.SendInput{Content: "late"})
	req.ErrorIs(err, domain.ErrRoomClosed)

	msgs, err := f.store.Messages(ctx, r.ID, "seller", domain.MessagePage{})
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal([]string{protocol.TypeMessage, protocol.TypeClosed}, f.rec.types())
	req.Equal([]string{"opened", "message", "closed:buyer"}, f.rec.calls)
}

func Test_Append_Length_From_Options(t *testing.T) {
	req := require.New(t)
	repo, err := badgerdb.Open(t.TempDir())
	req.NoError(err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()
	req.NoError(repo.Seed(ctx, []domain.Listing{{ID: "lst", SellerID: "seller", Title: "Bike"}}, nil))

	store := service.NewRoomStore(repo, nil, nil, service.Options{MaxMessageLength: 6000})
	r, _, err := store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)

	_, err = store.AppendMessage(ctx, r.ID, "buyer", service.SendInput{Content: strings.Repeat("a", 5000)})
	req.NoError(err)
	_, err = store.AppendMessage(ctx, r.ID, "buyer", service.SendInput{Content: strings.Repeat("a", 6001)})
	req.ErrorIs(err, domain.ErrInvalidPayload)
}

func Test_MarkRead_Covers_Messages_Ahead_Of_Clock(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	r, _, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)

	// часы стоят: каждое следующее сообщение получает время на микросекунду позже
	var last *domain.ChatMessage
	for _, text := range []string{"a", "b", "c"} {
		last, err = f.store.AppendMessage(ctx, r.ID, "buyer", service.SendInput{Content: text})
		req.NoError(err)
	}
	req.True(last.CreatedAt.After(*f.clock))

	cursor, err := f.store.MarkRead(ctx, r.ID, "seller")
	req.NoError(err)
	req.True(cursor.Equal(last.CreatedAt))

	n, err := f.store.UnreadCount(ctx, r.ID, "seller")
	req.NoError(err)
	req.Zero(n)
	total, err := f.store.TotalUnread(ctx, "seller")
	req.NoError(err)
	req.Zero(total)

	f.advance(time.Second)
	_, err = f.store.AppendMessage(ctx, r.ID, "buyer", service.SendInput{Content: "d"})
	req.NoError(err)
	n, err = f.store.UnreadCount(ctx, r.ID, "seller")
	req.NoError(err)
	req.Equal(1, n)
}

func Test_Close_Idempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	r, _, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)

	room, changed, err := f.store.Close(ctx, r.ID, "buyer")
	req.NoError(err)
	req.True(changed)
	req.Equal("buyer", *room.ClosedBy)

	room, changed, err = f.store.Close(ctx, r.ID, "seller")
	req.NoError(err)
	req.False(changed)
	req.Equal("buyer", *room.ClosedBy)

	req.Equal([]string{protocol.TypeClosed}, f.rec.types())
}

func Test_Edit_And_Delete(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	r, _, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	msg, err := f.store.AppendMessage(ctx, r.ID, "buyer", service.SendInput{Content: "helo"})
	req.NoError(err)

	_, err = f.store.EditMessage(ctx, r.ID, msg.ID, "seller", "hijack")
	req.ErrorIs(err, domain.ErrForbidden)

	edited, err := f.store.EditMessage(ctx, r.ID, msg.ID, "buyer", "hello")
	req.NoError(err)
	req.True(edited.IsEdited)
	req.Equal("hello", edited.Content)

	deleted, err := f.store.DeleteMessage(ctx, r.ID, msg.ID, "buyer")
	req.NoError(err)
	req.True(deleted.IsDeleted)
	req.Equal(domain.DeletedPlaceholder, deleted.Content)

	_, err = f.store.EditMessage(ctx, r.ID, msg.ID, "buyer", "again")
	req.ErrorIs(err, domain.ErrInvalidPayload)

	n, err := f.store.UnreadCount(ctx, r.ID, "seller")
	req.NoError(err)
	req.Zero(n)

	msgs, err := f.store.Messages(ctx, r.ID, "seller", domain.MessagePage{})
	req.NoError(err)
	req.Len(msgs, 1)
	req.True(msgs[0].IsDeleted)
}

func Test_MarkRead_Monotonic_And_Unread(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	r, _, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)

	for i := 0; i < 3; i++ {
		_, err := f.store.AppendMessage(ctx, r.ID, "buyer", service.SendInput{Content: "ping"})
		req.NoError(err)
	}
	n, err := f.store.UnreadCount(ctx, r.ID, "seller")
	req.NoError(err)
	req.Equal(3, n)
	total, err := f.store.TotalUnread(ctx, "seller")
	req.NoError(err)
	req.Equal(3, total)

	f.advance(time.Second)
	first, err := f.store.MarkRead(ctx, r.ID, "seller")
	req.NoError(err)
	n, err = f.store.UnreadCount(ctx, r.ID, "seller")
	req.NoError(err)
	req.Zero(n)

	// часы пошли назад, курсор остаётся на месте
	f.advance(-time.Hour)
	second, err := f.store.MarkRead(ctx, r.ID, "seller")
	req.NoError(err)
	req.True(second.Equal(first))

	_, err = f.store.MarkRead(ctx, r.ID, "stranger")
	req.ErrorIs(err, domain.ErrForbidden)
	_, err = f.store.UnreadCount(ctx, r.ID, "stranger")
	req.ErrorIs(err, domain.ErrForbidden)
}

func Test_CloseIdle_Notifies_System(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	r, _, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)

	f.advance(10 * time.Minute)
	cutoff := f.clock.Add(-5 * time.Minute)
	cands, err := f.store.IdleCandidates(ctx, cutoff, 10)
	req.NoError(err)
	req.Len(cands, 1)

	room, changed, err := f.store.CloseIdle(ctx, r.ID, cutoff)
	req.NoError(err)
	req.True(changed)
	req.Equal(domain.SystemActor, *room.ClosedBy)
	req.Contains(f.rec.calls, "closed:system")
}

func Test_Get_And_List(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	r, _, err := f.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	_, err = f.store.AppendMessage(ctx, r.ID, "seller", service.SendInput{Content: "hi"})
	req.NoError(err)

	sum, err := f.store.Get(ctx, r.ID, "buyer")
	req.NoError(err)
	req.Equal(1, sum.UnreadCount)

	_, err = f.store.Get(ctx, r.ID, "stranger")
	req.ErrorIs(err, domain.ErrForbidden)
	_, err = f.store.Get(ctx, "missing", "buyer")
	req.ErrorIs(err, domain.ErrNotFound)

	list, next, err := f.store.ListForUser(ctx, "buyer", 0, "")
	req.NoError(err)
	req.Empty(next)
	req.Len(list, 1)

	_, _, err = f.store.ListForUser(ctx, "buyer", 0, "not-a-cursor!")
	req.ErrorIs(err, domain.ErrInvalidPayload)
}
