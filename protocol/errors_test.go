package protocol

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsKindSentinel(t *testing.T) {
	err := NewError(KindTimeout, "fetch", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrAborted)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, "fetch: context deadline exceeded", err.Error())
}

func TestErrorfKeepsWrapped(t *testing.T) {
	err := Errorf(KindValidation, "fetch", "%w: %q", ErrInvalidProfile, "netscape-4")

	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.Equal(t, `fetch: invalid profile: "netscape-4"`, err.Error())
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewError(KindBodyUsed, "text", nil))
	assert.Equal(t, KindBodyUsed, KindOf(wrapped))
	assert.Equal(t, KindAborted, KindOf(fmt.Errorf("x: %w", ErrAborted)))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestErrorMessageFallsBackToKind(t *testing.T) {
	err := &Error{Kind: KindConnectionClosed}
	assert.Equal(t, "connection is closed", err.Error())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NewError(KindTimeout, "fetch", nil), "TIMEOUT"},
		{NewError(KindSessionClosed, "fetch", nil), ErrCodeInvalidSession},
		{Errorf(KindValidation, "lookup", "%w: abc", ErrSessionNotFound), ErrCodeInvalidSession},
		{Errorf(KindValidation, "fetch", "%w", ErrInvalidURL), "VALIDATION"},
		{errors.New("boom"), ErrCodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}
