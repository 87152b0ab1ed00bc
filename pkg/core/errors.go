package core

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnreachable          = errors.New("unreachable")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrProtocol             = errors.New("protocol error")
	ErrNoProfilesAvailable  = errors.New("no profiles available")
	ErrInvalidProfile       = errors.New("invalid profile")
	ErrMalformedURI         = errors.New("malformed uri")
	ErrStreamUnavailable    = errors.New("stream unavailable")
	ErrStreamLost           = errors.New("stream lost")
	ErrCancelled            = errors.New("cancelled")
)

// Error binds one of the kinds above to the step and device that failed.
type Error struct {
	Op     string // onvif: get profiles
	Device string // 192.0.2.10:80
	Kind   error
	Err    error
}

func NewError(op, device string, kind, err error) *Error {
	return &Error{Op: op, Device: device, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Device != "" {
		b.WriteString(" ")
		b.WriteString(e.Device)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil && e.Err != e.Kind {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Kinds in the order they are reported by KindOf.
var kinds = []error{
	ErrCancelled,
	ErrInvalidArgument,
	ErrAuthenticationFailed,
	ErrInvalidProfile,
	ErrNoProfilesAvailable,
	ErrMalformedURI,
	ErrStreamUnavailable,
	ErrStreamLost,
	ErrUnreachable,
	ErrProtocol,
}

// KindOf returns the taxonomy kind of err or nil for foreign errors.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	if IsCancelled(err) {
		return ErrCancelled
	}
	return nil
}

func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Retryable reports whether a fresh attempt with the same input can succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrUnreachable, ErrStreamUnavailable, ErrStreamLost, ErrProtocol:
		return true
	}
	return false
}

// ContextError converts ctx.Err() into the Cancelled kind.
func ContextError(ctx context.Context, op, device string) error {
	if err := ctx.Err(); err != nil {
		return NewError(op, device, ErrCancelled, err)
	}
	return nil
}
