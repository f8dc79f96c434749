package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/cwrk-planet/deal-chat/internal/broadcast"
	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/identity"
	"github.com/cwrk-planet/deal-chat/internal/metrics"
	"github.com/cwrk-planet/deal-chat/internal/presence"
	"github.com/cwrk-planet/deal-chat/internal/protocol"
	"github.com/cwrk-planet/deal-chat/internal/service"
	"github.com/cwrk-planet/deal-chat/internal/transport/httputil"
)

const (
	writeWait    = 5 * time.Second
	maxFrameSize = 64 << 10
)

type Rooms interface {
	Authorize(ctx context.Context, roomID, userID string) (*domain.Room, error)
	AppendMessage(ctx context.Context, roomID, senderID string, in service.SendInput) (*domain.ChatMessage, error)
	EditMessage(ctx context.Context, roomID, messageID, actorID, content string) (*domain.ChatMessage, error)
	DeleteMessage(ctx context.Context, roomID, messageID, actorID string) (*domain.ChatMessage, error)
	MarkRead(ctx context.Context, roomID, userID string) (time.Time, error)
	Close(ctx context.Context, roomID, actorID string) (*domain.Room, bool, error)
	TouchActivity(ctx context.Context, roomID, userID string) error
}

type Hub interface {
	Subscribe(roomID string, s broadcast.Subscriber)
	Unsubscribe(roomID string, s broadcast.Subscriber)
	Publish(roomID string, ev protocol.Event, exclude broadcast.Subscriber) int
}

type Options struct {
	PingEvery  time.Duration // 15s
	SendBuffer int           // 64
	// AllowedOrigins пуст — принимаем любой Origin.
	AllowedOrigins []string
}

type Server struct {
	upgrader websocket.Upgrader
	auth     identity.Authenticator
	rooms    Rooms
	hub      Hub
	presence presence.Tracker

	pingEvery  time.Duration
	sendBuffer int

	// closing и wg.Add под mu: после Shutdown новые соединения не регистрируются.
	mu       sync.Mutex
	closing  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// ErrShuttingDown — апгрейд отклонён, сервер уже закрывает соединения.
var ErrShuttingDown = errors.New("ws: server is shutting down")

func NewServer(auth identity.Authenticator, rooms Rooms, hub Hub, tracker presence.Tracker, opts Options) *Server {
	if opts.PingEvery <= 0 {
		opts.PingEvery = 15 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	origins := opts.AllowedOrigins
	return &Server{
		auth:     auth,
		rooms:    rooms,
		hub:      hub,
		presence: tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || lo.Contains(origins, "*") || lo.Contains(origins, origin)
			},
		},
		pingEvery:  opts.PingEvery,
		sendBuffer: opts.SendBuffer,
		shutdown:   make(chan struct{}),
	}
}

// HandleWS — GET /ws/rooms/{id}. Токен из Authorization: Bearer или ?access_token=.
// Ошибки авторизации отдаются обычным HTTP-ответом, без апгрейда.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "id")

	userID, err := s.auth.Authenticate(ctx, identity.TokenFromRequest(r))
	if err != nil {
		httputil.Fail(ctx, w, err)
		return
	}
	room, err := s.rooms.Authorize(ctx, roomID, userID)
	if err != nil {
		slog.Debug("ws rejected", "room", roomID, "user", userID, "err", err)
		httputil.Fail(ctx, w, err)
		return
	}

	if !s.track() {
		httputil.Fail(ctx, w, ErrShuttingDown)
		return
	}
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader уже ответил клиенту
		slog.Warn("ws upgrade failed", "room", roomID, "user", userID, "err", err)
		return
	}
	s.serve(context.WithoutCancel(ctx), newWsConn(conn, room, userID, s.sendBuffer))
}

// Shutdown закрывает все соединения кодом 1001 и ждёт их очистки.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		close(s.shutdown)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) serve(ctx context.Context, c *wsConn) {
	metrics.WSConnections.Inc()

	s.hub.Subscribe(c.roomID, c)
	c.setState(StateOpen)
	s.presence.Join(c.roomID, c.userID)
	defer s.cleanup(c)

	go s.writePump(c)

	s.touch(ctx, c)
	s.hub.Publish(c.roomID, protocol.PresenceEvent(c.roomID, c.userID, true), nil)
	slog.Debug("ws connected", "room", c.roomID, "user", c.userID)

	s.readLoop(ctx, c)
}

// cleanup выполняется на любом выходе из serve.
func (s *Server) cleanup(c *wsConn) {
	c.stop(websocket.CloseNormalClosure, "")
	<-c.writerDone

	s.presence.Leave(c.roomID, c.userID)
	if !s.presence.IsOnline(c.roomID, c.userID) {
		s.hub.Publish(c.roomID, protocol.PresenceEvent(c.roomID, c.userID, false), c)
	}
	s.hub.Unsubscribe(c.roomID, c)
	c.setState(StateClosed)
	metrics.WSConnections.Dec()
	slog.Debug("ws disconnected", "room", c.roomID, "user", c.userID)
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			slog.Debug("ws read ended", "room", c.roomID, "user", c.userID, "err", err)
			return
		}
		if !s.dispatch(ctx, c, data) {
			return
		}
	}
}

func (s *Server) writePump(c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	shutdown := s.shutdown
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case ev := <-c.send:
			if err := s.write(c, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-shutdown:
			shutdown = nil
			c.stop(websocket.CloseGoingAway, "server shutdown")
		case <-c.done:
			s.drain(c)
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// drain дописывает то, что уже стоит в очереди (например, error-кадр перед 1011).
func (s *Server) drain(c *wsConn) {
	for {
		select {
		case ev := <-c.send:
			if err := s.write(c, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) write(c *wsConn, ev protocol.Event) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

// reply — событие только вызывающему соединению.
func (s *Server) reply(c *wsConn, ev protocol.Event) {
	if !c.Deliver(ev) {
		metrics.BroadcastDropped.WithLabelValues(ev.Type).Inc()
	}
}

// dispatch обрабатывает один входящий кадр; false — соединение надо закрыть.
func (s *Server) dispatch(ctx context.Context, c *wsConn, data []byte) bool {
	f, err := protocol.Decode(data)
	action := f.Action
	if err == nil {
		err = s.handle(ctx, c, f)
	} else if action == "" {
		action = "invalid"
	}

	class := domain.Classify(err)
	outcome := string(class)
	if class == domain.ClassNone {
		outcome = "ok"
	}
	metrics.WSFrames.WithLabelValues(action, outcome).Inc()

	if err == nil {
		return true
	}
	s.reply(c, protocol.ErrorEvent(err))
	if class.Recoverable() {
		return true
	}
	slog.Error("ws action failed", "room", c.roomID, "user", c.userID, "action", action, "err", err)
	c.stop(websocket.CloseInternalServerErr, string(domain.ClassDependency))
	return false
}

func (s *Server) handle(ctx context.Context, c *wsConn, f protocol.Frame) error {
	switch f.Action {
	case protocol.ActionSendMessage:
		_, err := s.rooms.AppendMessage(ctx, c.roomID, c.userID, service.SendInput{
			Content:    f.Send.Content,
			Kind:       f.Send.Kind,
			Attachment: f.Send.Attachment,
		})
		return err

	case protocol.ActionTyping:
		s.hub.Publish(c.roomID, protocol.TypingEvent(c.roomID, c.userID, *f.Typing.IsTyping), c)
		s.touch(ctx, c)
		return nil

	case protocol.ActionMarkRead:
		_, err := s.rooms.MarkRead(ctx, c.roomID, c.userID)
		return err

	case protocol.ActionCloseChat:
		_, _, err := s.rooms.Close(ctx, c.roomID, c.userID)
		return err

	case protocol.ActionEditMessage:
		_, err := s.rooms.EditMessage(ctx, c.roomID, f.Edit.MessageID, c.userID, f.Edit.Content)
		return err

	case protocol.ActionDeleteMessage:
		_, err := s.rooms.DeleteMessage(ctx, c.roomID, f.Delete.MessageID, c.userID)
		return err

	case protocol.ActionRequestStatus:
		other := c.room.Counterpart(c.userID)
		s.reply(c, protocol.PresenceEvent(c.roomID, other, s.presence.IsOnline(c.roomID, other)))
		return nil
	}
	return domain.Invalidf("unknown action %q", f.Action)
}

func (s *Server) touch(ctx context.Context, c *wsConn) {
	err := s.rooms.TouchActivity(ctx, c.roomID, c.userID)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("buyer activity not recorded", "room", c.roomID, "user", c.userID, "err", err)
	}
}
