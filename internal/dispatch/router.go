// Package dispatch delivers a message through the user's active notification channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/habitflow/notifier/internal/directory"
	"github.com/habitflow/notifier/internal/domain"
	apperrors "github.com/habitflow/notifier/internal/errors"
	"github.com/habitflow/notifier/internal/repository"
	"github.com/habitflow/notifier/pkg/metrics"
)

const DefaultSubject = "HabitFlow Notification"

const (
	outcomeSent      = "sent"
	outcomeFailed    = "failed"
	outcomeForbidden = "forbidden"
	outcomeDisabled  = "disabled"
)

// Directory resolves usernames to users.
type Directory interface {
	ResolveUser(ctx context.Context, username string) (*domain.User, error)
}

// SettingsReader is the read side of the settings store.
type SettingsReader interface {
	GetEnabledByUser(ctx context.Context, userID int64) (*domain.Settings, error)
	FindByEmail(ctx context.Context, email domain.EmailAddress) (*domain.Settings, error)
}

// FailureMarker persists the advisory FAILED status.
type FailureMarker interface {
	MarkFailed(ctx context.Context, settings *domain.Settings) error
}

type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type ChatSender interface {
	Send(ctx context.Context, chatID domain.ChatID, text string) error
}

// Router sends each message once. There are no retries.
type Router struct {
	directory Directory
	settings  SettingsReader
	marker    FailureMarker
	mail      MailSender
	chat      ChatSender
	log       *slog.Logger
}

func NewRouter(dir Directory, settings SettingsReader, marker FailureMarker, mail MailSender, chat ChatSender, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		directory: dir,
		settings:  settings,
		marker:    marker,
		mail:      mail,
		chat:      chat,
		log:       log,
	}
}

// Notify routes message to username's enabled channel.
func (r *Router) Notify(ctx context.Context, username, subject, message string) error {
	if subject == "" {
		subject = DefaultSubject
	}

	user, err := r.directory.ResolveUser(ctx, username)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return apperrors.NewNotFoundError(fmt.Sprintf("user %s not found", username))
		}
		if apperrors.HasCode(err, apperrors.CodeUpstreamUnavailable) {
			return err
		}
		return apperrors.NewUpstreamUnavailableError("user-service", err)
	}

	settings, err := r.settings.GetEnabledByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFoundError(fmt.Sprintf("no notification settings for user %s", username))
		}
		return apperrors.NewDatabaseError(err)
	}

	log := r.log.With(slog.Int64("user_id", user.ID), slog.String("channel", string(settings.Channel)))

	switch settings.Channel {
	case domain.ChannelEmail:
		if err := r.mail.Send(ctx, user.Email, subject, message); err != nil {
			metrics.RecordDispatch(string(settings.Channel), outcomeFailed)
			r.markFailed(ctx, log, settings)
			return apperrors.NewSendFailedError("email", err)
		}

	case domain.ChannelTelegram:
		chat, ok := settings.LinkedChat()
		if !ok {
			metrics.RecordDispatch(string(settings.Channel), outcomeForbidden)
			r.markFailed(ctx, log, settings)
			return apperrors.NewForbiddenError("telegram channel not confirmed")
		}
		if err := r.chat.Send(ctx, chat, message); err != nil {
			metrics.RecordDispatch(string(settings.Channel), outcomeFailed)
			log.WarnContext(ctx, "telegram delivery failed", slog.Any("error", err))
			return nil
		}

	case domain.ChannelNone:
		metrics.RecordDispatch(string(settings.Channel), outcomeDisabled)
		return apperrors.NewForbiddenError("notifications disabled")

	default:
		return apperrors.NewInvalidRequestError(fmt.Sprintf("unknown channel %q", settings.Channel))
	}

	metrics.RecordDispatch(string(settings.Channel), outcomeSent)
	log.InfoContext(ctx, "notification dispatched")

	return nil
}

// SendEmail mails body to the given address. On failure the enabled row holding that address is marked FAILED.
func (r *Router) SendEmail(ctx context.Context, to, subject, body string) error {
	err := r.mail.Send(ctx, to, subject, body)
	if err == nil {
		metrics.RecordDispatch(string(domain.ChannelEmail), outcomeSent)
		return nil
	}

	metrics.RecordDispatch(string(domain.ChannelEmail), outcomeFailed)

	settings, lookupErr := r.settings.FindByEmail(ctx, domain.EmailAddress(to))
	switch {
	case lookupErr == nil:
		r.markFailed(ctx, r.log, settings)
	case !errors.Is(lookupErr, repository.ErrNotFound):
		r.log.WarnContext(ctx, "failed to look up settings for failed email", slog.Any("error", lookupErr))
	}

	return apperrors.NewSendFailedError("email", err)
}

func (r *Router) markFailed(ctx context.Context, log *slog.Logger, settings *domain.Settings) {
	if r.marker == nil {
		return
	}
	if err := r.marker.MarkFailed(ctx, settings); err != nil {
		log.ErrorContext(ctx, "failed to mark settings as failed", slog.Any("error", err))
	}
}
