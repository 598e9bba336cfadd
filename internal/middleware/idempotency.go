package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/habitflow/notifier/internal/bot/handlers"
	"github.com/habitflow/notifier/internal/idempotency"
)

const defaultDedupTTL = 24 * time.Hour

// Idempotency ensures handlers execute at most once per Telegram update, so redelivered updates get no second reply.
func Idempotency(manager idempotency.Manager, ttl time.Duration, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler {
			return next
		}
	}
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			key := extractIdempotencyKey(c)
			if key == "" {
				return next(c)
			}

			result, err := manager.Execute(context.Background(), key, ttl, func(context.Context) (any, error) {
				return nil, next(c)
			})
			if err != nil {
				if errors.Is(err, idempotency.ErrRequestInProgress) {
					return nil
				}
				return err
			}

			if result != nil && result.FromCache {
				log.Debug("duplicate update skipped", slog.String("key", key))
			}

			return nil
		}
	}
}

func extractIdempotencyKey(c telebot.Context) string {
	if c == nil {
		return ""
	}

	if id := c.Update().ID; id != 0 {
		return fmt.Sprintf("update:%d", id)
	}

	if msg := c.Message(); msg != nil && msg.ID != 0 {
		chatID := int64(0)
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		return fmt.Sprintf("msg:%d:%d", chatID, msg.ID)
	}

	return ""
}
