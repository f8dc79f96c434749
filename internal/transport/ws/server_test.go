package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/deal-chat/internal/badgerdb"
	"github.com/cwrk-planet/deal-chat/internal/broadcast"
	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/presence"
	"github.com/cwrk-planet/deal-chat/internal/protocol"
	"github.com/cwrk-planet/deal-chat/internal/service"
)

type staticAuth map[string]string

func (a staticAuth) Authenticate(_ context.Context, token string) (string, error) {
	if u, ok := a[token]; ok {
		return u, nil
	}
	return "", domain.ErrUnauthorized
}

// brokenRooms отказывает на записи сообщений, как упавшая БД.
type brokenRooms struct{ *service.RoomStore }

func (brokenRooms) AppendMessage(context.Context, string, string, service.SendInput) (*domain.ChatMessage, error) {
	return nil, errors.New("connection refused")
}

type env struct {
	httpSrv *httptest.Server
	ws      *Server
	store   *service.RoomStore
	tracker *presence.Memory
	room    *domain.Room
}

func newEnv(t *testing.T, wrap func(*service.RoomStore) Rooms) *env {
	t.Helper()
	repo, err := badgerdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Seed(context.Background(),
		[]domain.Listing{{ID: "lst", SellerID: "seller", Title: "Bike"}}, nil))

	hub := broadcast.NewHub()
	store := service.NewRoomStore(repo, hub, nil, service.Options{})
	room, _, err := store.GetOrCreate(context.Background(), "lst", "buyer")
	require.NoError(t, err)

	var rooms Rooms = store
	if wrap != nil {
		rooms = wrap(store)
	}
	tracker := presence.NewMemory()
	auth := staticAuth{"tb": "buyer", "ts": "seller", "tx": "stranger"}
	srv := NewServer(auth, rooms, hub, tracker, Options{})

	r := chi.NewRouter()
	r.Get("/ws/rooms/{id}", srv.HandleWS)
	httpSrv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		httpSrv.Close()
	})

	return &env{httpSrv: httpSrv, ws: srv, store: store, tracker: tracker, room: room}
}

func (e *env) url(roomID, token string) string {
	u := "ws" + strings.TrimPrefix(e.httpSrv.URL, "http") + "/ws/rooms/" + roomID
	if token != "" {
		u += "?access_token=" + token
	}
	return u
}

func (e *env) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(e.url(e.room.ID, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readUntil(t *testing.T, c *websocket.Conn, match func(protocol.Event) bool) protocol.Event {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev protocol.Event
		require.NoError(t, c.ReadJSON(&ev))
		if match(ev) {
			return ev
		}
	}
}

func ofType(typ string) func(protocol.Event) bool {
	return func(ev protocol.Event) bool { return ev.Type == typ }
}

func presenceOf(user, status string) func(protocol.Event) bool {
	return func(ev protocol.Event) bool {
		return ev.Type == protocol.TypePresence && ev.UserID == user && ev.Status == status
	}
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestHandleWS_RejectsWithoutUpgrade(t *testing.T) {
	e := newEnv(t, nil)

	cases := []struct {
		name   string
		roomID string
		token  string
		status int
	}{
		{"no token", e.room.ID, "", http.StatusUnauthorized},
		{"bad token", e.room.ID, "nope", http.StatusUnauthorized},
		{"unknown room", "00000000-0000-0000-0000-000000000000", "tb", http.StatusNotFound},
		{"stranger", e.room.ID, "tx", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(e.url(tc.roomID, tc.token), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestHandleWS_BearerHeader(t *testing.T) {
	e := newEnv(t, nil)
	h := http.Header{"Authorization": {"Bearer tb"}}
	c, _, err := websocket.DefaultDialer.Dial(e.url(e.room.ID, ""), h)
	require.NoError(t, err)
	defer c.Close()

	readUntil(t, c, presenceOf("buyer", protocol.StatusOnline))
}

func TestHandleWS_MessageFlow(t *testing.T) {
	req := require.New(t)
	e := newEnv(t, nil)

	buyer := e.dial(t, "tb")
	readUntil(t, buyer, presenceOf("buyer", protocol.StatusOnline))
	seller := e.dial(t, "ts")
	readUntil(t, buyer, presenceOf("seller", protocol.StatusOnline))

	send(t, buyer, `{"action":"send_message","content":"  is it available?  "}`)

	for _, c := range []*websocket.Conn{buyer, seller} {
		ev := readUntil(t, c, ofType(protocol.TypeMessage))
		req.Equal("is it available?", ev.Content)
		req.Equal("buyer", ev.SenderID)
		req.Equal(domain.KindText, ev.Kind)
		req.NotEmpty(ev.MessageID)
		req.EqualValues(1, ev.Seq)
		req.NotNil(ev.Timestamp)
	}

	msgs, err := e.store.Messages(context.Background(), e.room.ID, "seller", domain.MessagePage{})
	req.NoError(err)
	req.Len(msgs, 1)

	send(t, seller, `{"action":"mark_read"}`)
	ev := readUntil(t, buyer, ofType(protocol.TypeRead))
	req.Equal("seller", ev.UserID)
	req.NotNil(ev.ReadAt)

	n, err := e.store.UnreadCount(context.Background(), e.room.ID, "seller")
	req.NoError(err)
	req.Zero(n)
}

func TestHandleWS_TypingExcludesSender(t *testing.T) {
	e := newEnv(t, nil)

	buyer := e.dial(t, "tb")
	readUntil(t, buyer, presenceOf("buyer", protocol.StatusOnline))
	seller := e.dial(t, "ts")
	readUntil(t, seller, presenceOf("seller", protocol.StatusOnline))

	send(t, seller, `{"action":"typing","is_typing":true}`)
	ev := readUntil(t, buyer, ofType(protocol.TypeTyping))
	require.Equal(t, "seller", ev.UserID)
	require.True(t, *ev.IsTyping)

	// отправитель своё typing не получает: следующим придёт ответ на request_status
	send(t, seller, `{"action":"request_status"}`)
	require.NoError(t, seller.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got protocol.Event
	require.NoError(t, seller.ReadJSON(&got))
	require.Equal(t, protocol.TypePresence, got.Type)
	require.Equal(t, "buyer", got.UserID)
	require.Equal(t, protocol.StatusOnline, got.Status)
}

func TestHandleWS_InvalidPayloadKeepsConnection(t *testing.T) {
	req := require.New(t)
	e := newEnv(t, nil)
	buyer := e.dial(t, "tb")
	readUntil(t, buyer, presenceOf("buyer", protocol.StatusOnline))

	for _, frame := range []string{
		`not json`,
		`{"action":"dance"}`,
		`{"action":"typing"}`,
		`{"action":"send_message","content":"   "}`,
	} {
		send(t, buyer, frame)
		ev := readUntil(t, buyer, ofType(protocol.TypeError))
		req.Equal(string(domain.ClassInvalid), ev.Code, frame)
	}

	send(t, buyer, `{"action":"request_status"}`)
	ev := readUntil(t, buyer, ofType(protocol.TypePresence))
	req.Equal("seller", ev.UserID)
	req.Equal(protocol.StatusOffline, ev.Status)
}

func TestHandleWS_CloseChat(t *testing.T) {
	req := require.New(t)
	e := newEnv(t, nil)

	buyer := e.dial(t, "tb")
	readUntil(t, buyer, presenceOf("buyer", protocol.StatusOnline))
	seller := e.dial(t, "ts")
	readUntil(t, seller, presenceOf("seller", protocol.StatusOnline))

	send(t, seller, `{"action":"close_chat"}`)
	for _, c := range []*websocket.Conn{buyer, seller} {
		ev := readUntil(t, c, ofType(protocol.TypeClosed))
		req.Equal("seller", ev.ClosedBy)
	}

	// соединения остаются открытыми, но писать нельзя
	send(t, buyer, `{"action":"send_message","content":"wait"}`)
	ev := readUntil(t, buyer, ofType(protocol.TypeError))
	req.Equal(string(domain.ClassRoomClosed), ev.Code)

	// ответ на request_status приходит продавцу после всего, что могло быть разослано
	send(t, seller, `{"action":"request_status"}`)
	readUntil(t, seller, func(ev protocol.Event) bool {
		req.NotEqual(protocol.TypeMessage, ev.Type, "rejected message was broadcast")
		return ev.Type == protocol.TypePresence && ev.UserID == "buyer"
	})

	msgs, err := e.store.Messages(context.Background(), e.room.ID, "seller", domain.MessagePage{})
	req.NoError(err)
	for _, m := range msgs {
		req.NotEqual("wait", m.Content)
	}
}

func TestHandleWS_EditAndDelete(t *testing.T) {
	req := require.New(t)
	e := newEnv(t, nil)
	buyer := e.dial(t, "tb")

	send(t, buyer, `{"action":"send_message","content":"helo"}`)
	orig := readUntil(t, buyer, ofType(protocol.TypeMessage))

	send(t, buyer, `{"action":"edit_message","message_id":"`+orig.MessageID+`","content":"hello"}`)
	edited := readUntil(t, buyer, ofType(protocol.TypeMessage))
	req.Equal(orig.MessageID, edited.MessageID)
	req.Equal("hello", edited.Content)
	req.True(edited.IsEdited)

	send(t, buyer, `{"action":"delete_message","message_id":"`+orig.MessageID+`"}`)
	deleted := readUntil(t, buyer, ofType(protocol.TypeMessage))
	req.True(deleted.IsDeleted)

	send(t, buyer, `{"action":"delete_message","message_id":"missing"}`)
	ev := readUntil(t, buyer, ofType(protocol.TypeError))
	req.Equal(string(domain.ClassNotFound), ev.Code)
}

func TestHandleWS_DisconnectCleansUp(t *testing.T) {
	e := newEnv(t, nil)

	seller := e.dial(t, "ts")
	readUntil(t, seller, presenceOf("seller", protocol.StatusOnline))
	buyer := e.dial(t, "tb")
	readUntil(t, seller, presenceOf("buyer", protocol.StatusOnline))
	require.True(t, e.tracker.IsOnline(e.room.ID, "buyer"))

	require.NoError(t, buyer.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = buyer.Close()

	readUntil(t, seller, presenceOf("buyer", protocol.StatusOffline))
	require.Eventually(t, func() bool {
		return !e.tracker.IsOnline(e.room.ID, "buyer")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWS_DependencyFailureCloses1011(t *testing.T) {
	e := newEnv(t, func(s *service.RoomStore) Rooms { return brokenRooms{s} })
	buyer := e.dial(t, "tb")
	readUntil(t, buyer, presenceOf("buyer", protocol.StatusOnline))

	send(t, buyer, `{"action":"send_message","content":"hi"}`)
	ev := readUntil(t, buyer, ofType(protocol.TypeError))
	require.Equal(t, string(domain.ClassDependency), ev.Code)
	require.NotContains(t, ev.Error, "connection refused")

	_, _, err := buyer.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "got %v", err)

	require.Eventually(t, func() bool {
		return !e.tracker.IsOnline(e.room.ID, "buyer")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ShutdownGoingAway(t *testing.T) {
	e := newEnv(t, nil)
	buyer := e.dial(t, "tb")
	readUntil(t, buyer, presenceOf("buyer", protocol.StatusOnline))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, e.ws.Shutdown(ctx))

	require.NoError(t, buyer.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := buyer.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			return
		}
	}
}

func TestState_String(t *testing.T) {
	req := require.New(t)
	req.Equal("connecting", StateConnecting.String())
	req.Equal("authorized", StateAuthorized.String())
	req.Equal("open", StateOpen.String())
	req.Equal("closed", StateClosed.String())
}

func TestHandleWS_RejectsAfterShutdown(t *testing.T) {
	req := require.New(t)
	e := newEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(e.ws.Shutdown(ctx))

	_, resp, err := websocket.DefaultDialer.Dial(e.url(e.room.ID, "tb"), nil)
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.NotNil(resp)
	req.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	req.False(e.tracker.IsOnline(e.room.ID, "buyer"))
}
