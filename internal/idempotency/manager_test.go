package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func stores(t *testing.T) map[string]Store {
	client, _ := setupTestRedis(t)
	return map[string]Store{
		"redis":  NewRedisStore(client, testLogger()),
		"memory": NewMemoryStore(),
	}
}

func TestManagerExecutesOnce(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(store, testLogger())
			ctx := context.Background()
			calls := 0
			fn := func(context.Context) (any, error) {
				calls++
				return map[string]string{"status": "ok"}, nil
			}

			first, err := m.Execute(ctx, "update:1", time.Hour, fn)
			require.NoError(t, err)
			assert.False(t, first.FromCache)

			second, err := m.Execute(ctx, "update:1", time.Hour, fn)
			require.NoError(t, err)
			assert.True(t, second.FromCache)
			assert.JSONEq(t, `{"status":"ok"}`, string(second.Response))
			assert.Equal(t, 1, calls)
		})
	}
}

func TestManagerFailedOperationCanRetry(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(store, testLogger())
			ctx := context.Background()
			boom := errors.New("boom")

			_, err := m.Execute(ctx, "dispatch:k", time.Hour, func(context.Context) (any, error) {
				return nil, boom
			})
			require.ErrorIs(t, err, boom)

			res, err := m.Execute(ctx, "dispatch:k", time.Hour, func(context.Context) (any, error) {
				return "done", nil
			})
			require.NoError(t, err)
			assert.False(t, res.FromCache)
		})
	}
}

func TestManagerReportsInProgress(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, testLogger())
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := m.Execute(ctx, "update:7", time.Hour, func(context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
		done <- err
	}()

	<-started
	_, err := m.Execute(ctx, "update:7", time.Hour, func(context.Context) (any, error) {
		t.Fatal("second execution must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRedisStoreRecordExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", &Record{Status: StatusCompleted, Response: []byte(`1`)}, time.Minute))
	assert.True(t, mr.Exists("notifier:idempotency:k"))

	mr.FastForward(2 * time.Minute)

	record, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestMemoryStoreLockExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := store.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.Lock(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = store.Lock(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestGenerateKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, GenerateKey("dispatch", "abc"), GenerateKey("dispatch", "abc"))
	assert.NotEqual(t, GenerateKey("ab", "c"), GenerateKey("a", "bc"))
}
