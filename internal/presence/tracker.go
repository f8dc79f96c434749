package presence

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Tracker — эфемерное «кто сейчас в комнате». Не источник истины для персистентных данных.
type Tracker interface {
	Join(roomID, userID string)
	Leave(roomID, userID string)
	IsOnline(roomID, userID string) bool
	Snapshot(roomID string) []string
}

// Memory — in-process реализация со счётчиком ссылок: каждая вкладка пользователя
// занимает один слот, Leave освобождает один.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]map[string]int // roomID -> userID -> refcount
}

var _ Tracker = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]map[string]int)}
}

func (m *Memory) Join(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]int)
		m.rooms[roomID] = members
	}
	members[userID]++
}

func (m *Memory) Leave(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		return
	}
	n, ok := members[userID]
	if !ok {
		return
	}
	if n <= 1 {
		delete(members, userID)
	} else {
		members[userID] = n - 1
	}
	if len(members) == 0 {
		delete(m.rooms, roomID)
	}
}

func (m *Memory) IsOnline(roomID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID][userID] > 0
}

// Snapshot — отсортированный список онлайн-пользователей комнаты.
func (m *Memory) Snapshot(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := lo.Keys(m.rooms[roomID])
	slices.Sort(out)
	return out
}

// Connections — сколько слотов занимает пользователь (для отладки и тестов).
func (m *Memory) Connections(roomID, userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID][userID]
}
