package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want int
	}{
		{"invalid request", NewInvalidRequestError("bad"), http.StatusBadRequest},
		{"forbidden", NewForbiddenError("telegram channel not confirmed"), http.StatusForbidden},
		{"not found", NewNotFoundError("user not found"), http.StatusNotFound},
		{"send failed", NewSendFailedError("email", errors.New("smtp down")), http.StatusBadGateway},
		{"upstream", NewUpstreamUnavailableError("user service", nil), http.StatusBadGateway},
		{"database", NewDatabaseError(errors.New("conn reset")), http.StatusInternalServerError},
		{"conflict", NewConflictError("locked", nil), http.StatusConflict},
		{"rate limited", NewRateLimitError(30), http.StatusTooManyRequests},
		{"internal", NewInternalError(nil), http.StatusInternalServerError},
		{"nil", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", NewForbiddenError("no channel"))

	assert.True(t, HasCode(err, CodeForbidden))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeForbidden))
}

func TestAsAppErrorWrapsUnknown(t *testing.T) {
	cause := errors.New("boom")
	appErr := AsAppError(cause)

	require.NotNil(t, appErr)
	assert.Equal(t, CodeInternal, appErr.Code)
	assert.ErrorIs(t, appErr, cause)
	assert.Nil(t, AsAppError(nil))
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return NewInvalidRequestError("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return NewDatabaseError(errors.New("transient"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(BreakerSettings{
		MinRequests: 2,
		OpenTimeout: time.Minute,
		HalfOpenMax: 1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	now := time.Now()
	cb.now = func() time.Time { return now }

	failing := errors.New("down")
	assert.ErrorIs(t, cb.Call(func() error { return failing }), failing)
	assert.ErrorIs(t, cb.Call(func() error { return failing }), failing)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	assert.ErrorIs(t, cb.Call(func() error { called = true; return nil }), ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}
