package domain

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewRoomID — uuid, как и у остальных комнат сервиса.
func NewRoomID() string { return uuid.NewString() }

// NewSortableID — ULID: лексикографически растёт вместе со временем создания.
func NewSortableID(now time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), ulidEntropy).String()
}
