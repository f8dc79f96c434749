package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Cursor — позиция в выдаче, отсортированной по (At, ID) DESC.
type Cursor struct {
	At time.Time `json:"at"`
	ID string    `json:"id"`
}

// Before — лежит ли (at, id) строго после курсора в порядке DESC.
func (c *Cursor) Before(at time.Time, id string) bool {
	if c == nil {
		return true
	}
	return at.Before(c.At) || (at.Equal(c.At) && id < c.ID)
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	return &c, nil
}

// Next строит курсор следующей страницы, если страница заполнена целиком.
func Next(n, limit int, at time.Time, id string) string {
	if n == 0 || n < limit {
		return ""
	}
	next, err := EncodeCursor(Cursor{At: at, ID: id})
	if err != nil {
		return ""
	}
	return next
}

// ClampLimit приводит limit к [1..max], 0 и отрицательные — def.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
