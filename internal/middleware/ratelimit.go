package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/habitflow/notifier/internal/bot/handlers"
	"github.com/habitflow/notifier/internal/ratelimit"
	"github.com/habitflow/notifier/pkg/metrics"
)

// RateLimitMiddleware caps link attempts per chat.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	texts   handlers.Catalog
	log     *slog.Logger
	now     func() time.Time
}

func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, texts handlers.Catalog, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		texts:   texts,
		log:     log,
		now:     time.Now,
	}
}

// Handle limits plain text messages only; commands pass through. Limiter failures let the update through.
func (m *RateLimitMiddleware) Handle(next handlers.Handler) handlers.Handler {
	return func(c telebot.Context) error {
		if m.limiter == nil || m.rules == nil {
			return next(c)
		}

		chat := c.Chat()
		if chat == nil || strings.HasPrefix(c.Text(), "/") || m.rules.IsWhitelisted(chat.ID) {
			return next(c)
		}

		limit, window, err := m.rules.LinkAttemptLimit()
		if err != nil {
			m.log.Error("failed to load link attempt limit", slog.Int64("chat_id", chat.ID), slog.Any("error", err))
			return next(c)
		}

		result, err := m.limiter.Check(context.Background(), fmt.Sprintf("link:%d", chat.ID), limit, window)
		if result == nil {
			if err != nil {
				m.log.Warn("rate limiter error", slog.Int64("chat_id", chat.ID), slog.Any("error", err))
			}
			return next(c)
		}

		if result.Allowed {
			return next(c)
		}

		m.log.Warn("link attempts exceeded", slog.Int64("chat_id", chat.ID))
		metrics.RecordLinkAttempt("rate_limited")

		minutes := int(math.Round(result.RetryAfter(m.now()).Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		return c.Send(m.texts.Translator(handlers.Language(c)).Tf("link.too_many_attempts", minutes))
	}
}
