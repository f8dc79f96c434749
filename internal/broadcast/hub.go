package broadcast

import (
	"sync"

	"github.com/cwrk-planet/deal-chat/internal/protocol"
)

// Subscriber — получатель событий комнаты. Deliver не должен блокироваться:
// false означает, что событие потеряно (best-effort, at-most-once).
type Subscriber interface {
	Deliver(ev protocol.Event) bool
}

// DropObserver вызывается на каждое потерянное событие.
type DropObserver func(roomID string, ev protocol.Event)

// Hub — по одному multicast-топику на комнату.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[Subscriber]struct{} // roomID -> set of subscribers
	onDrop DropObserver
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Subscriber]struct{})}
}

// OnDrop регистрирует наблюдателя за потерями (метрики).
func (h *Hub) OnDrop(fn DropObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

func (h *Hub) Subscribe(roomID string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		rs = make(map[Subscriber]struct{})
		h.rooms[roomID] = rs
	}
	rs[s] = struct{}{}
}

func (h *Hub) Unsubscribe(roomID string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rs, ok := h.rooms[roomID]; ok {
		delete(rs, s)
		if len(rs) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Publish рассылает событие всем подписчикам комнаты, кроме exclude (может быть nil).
// Возвращает число доставленных.
func (h *Hub) Publish(roomID string, ev protocol.Event, exclude Subscriber) int {
	h.mu.RLock()
	rs := h.rooms[roomID]
	targets := make([]Subscriber, 0, len(rs))
	for s := range rs {
		if exclude != nil && s == exclude {
			continue
		}
		targets = append(targets, s)
	}
	onDrop := h.onDrop
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Deliver(ev) {
			delivered++
		} else if onDrop != nil {
			onDrop(roomID, ev)
		}
	}
	return delivered
}

func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
