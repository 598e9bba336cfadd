package directory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitflow/notifier/internal/domain"
	apperrors "github.com/habitflow/notifier/internal/errors"
	"github.com/habitflow/notifier/internal/usercache"
	"github.com/habitflow/notifier/pkg/config"
)

type staticToken string

func (s staticToken) ServiceToken() (string, error) { return string(s), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(config.UserServiceConfig{BaseURL: srv.URL, Timeout: time.Second}, staticToken("svc-token"), testLogger(), opts...)
	require.NoError(t, err)
	return client
}

func TestResolveUser(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/internal/username/{username}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		if r.PathValue("username") != "ann" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.User{ID: 7, Username: "ann", Email: "ann@example.com"})
	})

	client := newTestClient(t, mux, WithCache(usercache.NewMemoryCache(10, time.Minute)))
	ctx := context.Background()

	user, err := client.ResolveUser(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "ann@example.com", user.Email)

	_, err = client.ResolveUser(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second lookup is served from cache")

	_, err = client.ResolveUser(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/internal/id/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "1":
			w.WriteHeader(http.StatusOK)
		case "2":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	exists, err := client.UserExists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.UserExists(ctx, 2)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = client.UserExists(ctx, 3)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUpstreamUnavailable))
}

func TestUsersByIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/internal/ids", func(w http.ResponseWriter, r *http.Request) {
		var ids []int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ids))
		assert.Equal(t, []int64{1, 2}, ids)
		_ = json.NewEncoder(w).Encode([]domain.User{{ID: 1, Username: "ann"}, {ID: 2, Username: "bob"}})
	})
	client := newTestClient(t, mux)

	users, err := client.UsersByIDs(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[1].Username)
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), WithBreaker(apperrors.BreakerSettings{MinRequests: 2, OpenTimeout: time.Hour}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.UserExists(ctx, 1)
		require.Error(t, err)
	}

	_, err := client.UserExists(ctx, 1)
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}
