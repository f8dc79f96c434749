package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/deal-chat/internal/domain"
)

type envelope map[string]any

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// Status — HTTP-код для класса ошибки.
func Status(err error) int {
	switch domain.Classify(err) {
	case domain.ClassNone:
		return http.StatusOK
	case domain.ClassUnauthorized:
		return http.StatusUnauthorized
	case domain.ClassForbidden:
		return http.StatusForbidden
	case domain.ClassNotFound:
		return http.StatusNotFound
	case domain.ClassRoomClosed:
		return http.StatusConflict
	case domain.ClassInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// Error — унифицированная ошибка {"error":{"code","message"}}.
func Error(w http.ResponseWriter, status int, code, msg string) {
	JSON(w, status, envelope{
		"error": envelope{
			"code":    code,
			"message": msg,
		},
	})
}

// Fail классифицирует err и пишет ответ. Детали отказов зависимостей
// остаются в логе и клиенту не уходят.
func Fail(ctx context.Context, w http.ResponseWriter, err error) {
	class := domain.Classify(err)
	status := Status(err)
	msg := err.Error()
	if class == domain.ClassDependency {
		L(ctx).ErrorContext(ctx, "request failed", "err", err)
		msg = "service temporarily unavailable"
	}
	Error(w, status, string(class), msg)
}

// Decode читает JSON-тело; ошибка — ErrInvalidPayload.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return domain.Invalidf("body too large")
		}
		return domain.Invalidf("invalid json")
	}
	return nil
}
