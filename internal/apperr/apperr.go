package apperr

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks across package boundaries.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state transition")
	ErrRoomResolution = errors.New("room resolution failed")
	ErrNotConnected   = errors.New("transport not connected")
	ErrAuthFailure    = errors.New("authentication failure")
	ErrTransport      = errors.New("transport error")
)

// Error wraps a sentinel with a human-readable detail message.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Detail: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Detail: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) error {
	return &Error{Kind: ErrInvalidState, Detail: fmt.Sprintf(format, args...)}
}

func RoomResolution(format string, args ...any) error {
	return &Error{Kind: ErrRoomResolution, Detail: fmt.Sprintf(format, args...)}
}

func NotConnected(format string, args ...any) error {
	return &Error{Kind: ErrNotConnected, Detail: fmt.Sprintf(format, args...)}
}

func AuthFailure(format string, args ...any) error {
	return &Error{Kind: ErrAuthFailure, Detail: fmt.Sprintf(format, args...)}
}

func Transport(format string, args ...any) error {
	return &Error{Kind: ErrTransport, Detail: fmt.Sprintf(format, args...)}
}
