// Package usercache caches directory lookups by username.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	redis "github.com/redis/go-redis/v9"

	"github.com/habitflow/notifier/internal/domain"
)

const defaultMemorySize = 1024

// Cache stores resolved users. A miss is (nil, nil).
type Cache interface {
	Get(ctx context.Context, username string) (*domain.User, error)
	Set(ctx context.Context, user *domain.User) error
	Invalidate(ctx context.Context, username string) error
}

// RedisCache shares resolved users between replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, username string) (*domain.User, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, cacheKey(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached user: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode cached user: %w", err)
	}

	return &user, nil
}

func (c *RedisCache) Set(ctx context.Context, user *domain.User) error {
	if c == nil || c.client == nil || user == nil {
		return nil
	}

	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user for cache: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(user.Username), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached user: %w", err)
	}

	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, username string) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.client.Del(ctx, cacheKey(username)).Err(); err != nil {
		return fmt.Errorf("delete cached user: %w", err)
	}

	return nil
}

func cacheKey(username string) string {
	return fmt.Sprintf("notifier:user:%s", username)
}

// MemoryCache is a bounded per-process cache used when Redis is not configured.
type MemoryCache struct {
	lru *expirable.LRU[string, domain.User]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = defaultMemorySize
	}
	return &MemoryCache{lru: expirable.NewLRU[string, domain.User](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, username string) (*domain.User, error) {
	user, ok := c.lru.Get(username)
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (c *MemoryCache) Set(_ context.Context, user *domain.User) error {
	if user == nil {
		return nil
	}
	c.lru.Add(user.Username, *user)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, username string) error {
	c.lru.Remove(username)
	return nil
}
