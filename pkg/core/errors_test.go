package core

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	err := NewError("onvif: get profiles", "192.0.2.10:80", ErrUnreachable, io.EOF)

	require.ErrorIs(t, err, ErrUnreachable)
	require.ErrorIs(t, err, io.EOF)
	require.NotErrorIs(t, err, ErrProtocol)
	require.Equal(t, "onvif: get profiles 192.0.2.10:80: unreachable: EOF", err.Error())

	err = NewError("creds: inject", "", ErrMalformedURI, nil)
	require.Equal(t, "creds: inject: malformed uri", err.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"nil", nil, nil},
		{"foreign", io.EOF, nil},
		{"wrapped", NewError("op", "", ErrInvalidProfile, errors.New("NoProfile")), ErrInvalidProfile},
		{"context", context.Canceled, ErrCancelled},
		{"deadline", NewError("op", "", ErrUnreachable, context.DeadlineExceeded), ErrUnreachable},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.kind, KindOf(test.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(NewError("op", "", ErrUnreachable, nil)))
	require.True(t, Retryable(NewError("op", "", ErrStreamLost, nil)))
	require.False(t, Retryable(NewError("op", "", ErrAuthenticationFailed, nil)))
	require.False(t, Retryable(NewError("op", "", ErrMalformedURI, nil)))
	require.False(t, Retryable(context.Canceled))
}

func TestContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ContextError(ctx, "op", ""))
	cancel()
	err := ContextError(ctx, "op", "dev")
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
}
