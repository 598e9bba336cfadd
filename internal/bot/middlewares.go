package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/habitflow/notifier/internal/bot/handlers"
	errors "github.com/habitflow/notifier/internal/errors"
)

// RecoveryMiddleware catches panics, reports them via the centralized handler, and tells the user to retry.
func RecoveryMiddleware(log *slog.Logger, errHandler *errors.Handler, texts handlers.Catalog) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))

					if errHandler != nil {
						errHandler.Handle(context.Background(), errors.NewInternalError(fmt.Errorf("panic recovered: %v", r)))
					}

					if sendErr := c.Send(texts.Translator(handlers.Language(c)).T("link.temporary_error")); sendErr != nil {
						log.Error("failed to notify user about panic", slog.Any("error", sendErr))
					}

					err = nil
				}
			}()

			return next(c)
		}
	}
}

// ErrorHandlingMiddleware reports handler failures. Most failures are failed replies, so no further reply is attempted.
func ErrorHandlingMiddleware(errHandler *errors.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if errHandler != nil {
				errHandler.Handle(context.Background(), errors.NewUpstreamUnavailableError("telegram", err))
			}

			return nil
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming updates. Message text is never logged since it may hold a link token.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			start := time.Now()
			chatID := int64(0)
			if chat := c.Chat(); chat != nil {
				chatID = chat.ID
			}
			updateID := c.Update().ID

			log.Debug("handling update", slog.Int("update_id", updateID), slog.Int64("chat_id", chatID))
			err := next(c)
			log.Info("handled update",
				slog.Int("update_id", updateID),
				slog.Int64("chat_id", chatID),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)

			return err
		}
	}
}
