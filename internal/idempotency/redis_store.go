package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

type Record struct {
	Status   string
	Response []byte
}

type Store interface {
	Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, record *Record, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ReleaseLock(ctx context.Context, key string) error
}

type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisStore(client *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{
		client: client,
		log:    log,
	}
}

func (s *RedisStore) Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	acquired, err := s.client.SetNX(ctx, lockKey(key), 1, lockTTL).Result()
	if err != nil {
		s.log.Error("failed to acquire idempotency lock", slog.String("key", key), slog.Any("error", err))
		return false, err
	}

	return acquired, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	result, err := s.client.HGetAll(ctx, recordKey(key)).Result()
	if err != nil {
		s.log.Error("failed to fetch idempotency record", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	if len(result) == 0 {
		return nil, nil
	}

	record := &Record{Status: result["status"]}
	if response := result["response"]; response != "" {
		record.Response = []byte(response)
	}

	return record, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	if record == nil {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recordKey(key), map[string]any{
		"status":   record.Status,
		"response": string(record.Response),
	})
	pipe.Expire(ctx, recordKey(key), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("failed to store idempotency record", slog.String("key", key), slog.Any("error", err))
		return err
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, recordKey(key)).Err()
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	return s.client.Del(ctx, lockKey(key)).Err()
}

func recordKey(key string) string {
	return fmt.Sprintf("notifier:idempotency:%s", key)
}

func lockKey(key string) string {
	return fmt.Sprintf("notifier:idempotency:%s:lock", key)
}
