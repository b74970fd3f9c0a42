package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageWithoutCause(t *testing.T) {
	e := New(KindQueryParse, "querydsl", "ParseJSON", "unexpected token")
	assert.Contains(t, e.Error(), "querydsl")
	assert.Contains(t, e.Error(), "ParseJSON")
	assert.Contains(t, e.Error(), "unexpected token")
}

func TestErrorMessageWithCause(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(KindTransientIO, "writertransport", "Flush", cause)
	assert.Contains(t, e.Error(), "disk full")
	assert.ErrorIs(t, e, cause)
}

func TestWithMetadata(t *testing.T) {
	e := New(KindTransientIO, "c", "op", "msg").WithMetadata("path", "/var/log/x")
	assert.Equal(t, "/var/log/x", e.Metadata["path"])
}

func TestRecoverable(t *testing.T) {
	cases := []struct {
		kind        Kind
		recoverable bool
	}{
		{KindTransientIO, true},
		{KindQueryParse, true},
		{KindRegexCompile, true},
		{KindWorkerDead, false},
		{KindChannelSend, false},
	}
	for _, tc := range cases {
		e := New(tc.kind, "c", "op", "msg")
		assert.Equal(t, tc.recoverable, e.Recoverable(), "kind %s", tc.kind)
	}
}
