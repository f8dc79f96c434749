package broadcast

import (
	"sync"
	"testing"

	"github.com/cwrk-planet/deal-chat/internal/protocol"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
	full   bool
}

func (r *recorder) Deliver(ev protocol.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) got() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

func TestHub_PublishExcludesOrigin(t *testing.T) {
	req := require.New(t)
	h := NewHub()
	a, b, other := &recorder{}, &recorder{}, &recorder{}
	h.Subscribe("r1", a)
	h.Subscribe("r1", b)
	h.Subscribe("r2", other)

	n := h.Publish("r1", protocol.TypingEvent("r1", "alice", true), a)
	req.Equal(1, n)
	req.Empty(a.got())
	req.Len(b.got(), 1)
	req.Empty(other.got())

	n = h.Publish("r1", protocol.PresenceEvent("r1", "alice", true), nil)
	req.Equal(2, n)
	req.Len(a.got(), 1)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	a := &recorder{}
	h.Subscribe("r1", a)
	require.Equal(t, 1, h.Count("r1"))

	h.Unsubscribe("r1", a)
	require.Equal(t, 0, h.Count("r1"))
	require.Equal(t, 0, h.Publish("r1", protocol.PresenceEvent("r1", "x", false), nil))
	require.Empty(t, a.got())

	// повторная отписка безопасна
	h.Unsubscribe("r1", a)
}

func TestHub_DropIsReported(t *testing.T) {
	h := NewHub()
	slow := &recorder{full: true}
	h.Subscribe("r1", slow)

	var dropped []string
	h.OnDrop(func(roomID string, ev protocol.Event) { dropped = append(dropped, roomID+":"+ev.Type) })

	require.Equal(t, 0, h.Publish("r1", protocol.PresenceEvent("r1", "x", true), nil))
	require.Equal(t, []string{"r1:presence"}, dropped)
}
