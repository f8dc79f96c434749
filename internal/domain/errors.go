package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrRoomClosed     = errors.New("room is not active")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrDependency     = errors.New("dependency failure")

	ErrRoomNotFound         = fmt.Errorf("room %w", ErrNotFound)
	ErrListingNotFound      = fmt.Errorf("listing %w", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("message %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
)

// ErrorClass — категория ошибки, по которой транспорт решает, что отдать клиенту.
type ErrorClass string

const (
	ClassNone         ErrorClass = ""
	ClassUnauthorized ErrorClass = "unauthorized"
	ClassForbidden    ErrorClass = "forbidden"
	ClassNotFound     ErrorClass = "not_found"
	ClassRoomClosed   ErrorClass = "room_closed"
	ClassInvalid      ErrorClass = "invalid_payload"
	ClassDependency   ErrorClass = "unavailable"
)

// Classify сводит любую ошибку к одному классу; всё неизвестное считается отказом зависимости.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, ErrForbidden):
		return ClassForbidden
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrRoomClosed):
		return ClassRoomClosed
	case errors.Is(err, ErrInvalidPayload):
		return ClassInvalid
	default:
		return ClassDependency
	}
}

// Recoverable — ошибка не должна закрывать live-соединение.
func (c ErrorClass) Recoverable() bool {
	switch c {
	case ClassForbidden, ClassNotFound, ClassRoomClosed, ClassInvalid:
		return true
	default:
		return false
	}
}

// Invalidf оборачивает описание в ErrInvalidPayload.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
