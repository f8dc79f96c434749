package ws

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/protocol"
)

// State — жизненный цикл live-соединения.
type State int32

const (
	StateConnecting State = iota
	StateAuthorized
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// wsConn — одно соединение участника с комнатой. Исходящие события идут через
// ограниченную очередь send; пишет в сокет только writePump.
type wsConn struct {
	conn   *websocket.Conn
	room   *domain.Room
	roomID string
	userID string

	state atomic.Int32
	send  chan protocol.Event

	once       sync.Once
	done       chan struct{} // закрытие начато
	writerDone chan struct{}
	closeCode  int
	closeText  string
}

func newWsConn(c *websocket.Conn, room *domain.Room, userID string, buffer int) *wsConn {
	wc := &wsConn{
		conn:       c,
		room:       room,
		roomID:     room.ID,
		userID:     userID,
		send:       make(chan protocol.Event, buffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		closeCode:  websocket.CloseNormalClosure,
	}
	wc.state.Store(int32(StateAuthorized))
	return wc
}

func (c *wsConn) State() State { return State(c.state.Load()) }

func (c *wsConn) setState(s State) { c.state.Store(int32(s)) }

// Deliver не блокируется: переполненная очередь или закрывающееся соединение
// означают потерю события.
func (c *wsConn) Deliver(ev protocol.Event) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// stop просит writePump дописать очередь, отправить close-кадр и закрыть сокет.
// Повторные вызовы ничего не меняют.
func (c *wsConn) stop(code int, text string) {
	c.once.Do(func() {
		c.closeCode, c.closeText = code, text
		close(c.done)
	})
}
