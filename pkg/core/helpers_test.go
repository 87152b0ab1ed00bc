package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandString(t *testing.T) {
	s := RandString(16, 16)
	require.Len(t, s, 16)
	for _, c := range s {
		require.True(t, strings.ContainsRune(digits[:16], c), "%q", c)
	}

	s = RandString(32, 10)
	require.Len(t, s, 32)
	for _, c := range s {
		require.True(t, c >= '0' && c <= '9', "%q", c)
	}

	require.NotEqual(t, RandString(16, 36), RandString(16, 36))
	require.Empty(t, RandString(0, 36))
}

func TestBetween(t *testing.T) {
	tests := []struct {
		s, sub1, sub2 string
		want          string
	}{
		{`realm="camtap", nonce="abc"`, `nonce="`, `"`, "abc"},
		{`realm="camtap"`, `nonce="`, `"`, ""},
		{`Session: 1234;timeout=60`, "Session: ", ";", "1234"},
		{`Session: 1234`, "Session: ", ";", "1234"},
		{"", "a", "b", ""},
	}
	for _, test := range tests {
		require.Equal(t, test.want, Between(test.s, test.sub1, test.sub2), test.s)
	}
}

func TestAtoi(t *testing.T) {
	require.Equal(t, 554, Atoi("554"))
	require.Equal(t, 0, Atoi(""))
	require.Equal(t, 0, Atoi("abc"))
	require.Equal(t, -1, Atoi("-1"))
}
