package usercache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitflow/notifier/internal/domain"
)

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()
	user := &domain.User{ID: 7, Username: "ann", Email: "ann@example.com"}

	miss, err := cache.Get(ctx, "ann")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, cache.Set(ctx, user))
	assert.Equal(t, time.Minute, mr.TTL("notifier:user:ann"))

	hit, err := cache.Get(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, user, hit)

	require.NoError(t, cache.Invalidate(ctx, "ann"))
	miss, err = cache.Get(ctx, "ann")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	cache := NewMemoryCache(2, time.Hour)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, cache.Set(ctx, &domain.User{Username: name}))
	}

	evicted, _ := cache.Get(ctx, "a")
	assert.Nil(t, evicted)

	kept, _ := cache.Get(ctx, "c")
	require.NotNil(t, kept)
	assert.Equal(t, "c", kept.Username)
}

func TestNilRedisCacheIsNoop(t *testing.T) {
	var cache *RedisCache
	user, err := cache.Get(context.Background(), "ann")
	assert.NoError(t, err)
	assert.Nil(t, user)
	assert.NoError(t, cache.Set(context.Background(), &domain.User{Username: "ann"}))
}
