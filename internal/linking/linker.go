// Package linking binds Telegram chats to notification settings using one-time link tokens.
package linking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/habitflow/notifier/internal/domain"
	"github.com/habitflow/notifier/internal/repository"
	"github.com/habitflow/notifier/internal/state"
)

// Event is one inbound chat message.
type Event struct {
	UpdateID int
	ChatID   domain.ChatID
	Text     string
	Language string
}

// Outcome classifies how an event was handled.
type Outcome string

const (
	OutcomeIgnored        Outcome = "ignored"
	OutcomeAlreadyLinked  Outcome = "already_linked"
	OutcomeLinked         Outcome = "linked"
	OutcomeInvalidToken   Outcome = "invalid_token"
	OutcomeTemporaryError Outcome = "temporary_error"
)

// MessageKey returns the catalog key of the reply for o, or "" when no reply is sent.
func (o Outcome) MessageKey() string {
	if o == OutcomeIgnored {
		return ""
	}
	return "link." + string(o)
}

// Store is the slice of the settings repository the linker needs.
type Store interface {
	FindConfirmedByChat(ctx context.Context, chat domain.ChatID) (*domain.Settings, error)
	ClaimLinkToken(ctx context.Context, token domain.LinkToken, chat domain.ChatID, now time.Time) (*domain.Settings, error)
}

// Linker decides the outcome of a single event.
type Linker struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewLinker(store Store, log *slog.Logger) *Linker {
	if log == nil {
		log = slog.Default()
	}

	return &Linker{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Handle never returns an error; storage failures become OutcomeTemporaryError.
func (l *Linker) Handle(ctx context.Context, ev Event) Outcome {
	token := strings.TrimSpace(ev.Text)
	if token == "" {
		return OutcomeIgnored
	}

	log := l.log.With(slog.Int64("chat_id", int64(ev.ChatID)), slog.Int("update_id", ev.UpdateID))

	existing, err := l.store.FindConfirmedByChat(ctx, ev.ChatID)
	switch {
	case err == nil && existing != nil:
		return OutcomeAlreadyLinked
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		log.ErrorContext(ctx, "linking: failed to look up chat", slog.Any("error", err))
		return OutcomeTemporaryError
	}

	claimed, err := l.store.ClaimLinkToken(ctx, domain.LinkToken(token), ev.ChatID, l.now())
	switch {
	case err == nil:
		state.RecordTransition(state.PhaseTelegramPending, state.PhaseTelegramConfirmed)
		log.InfoContext(ctx, "linking: chat linked", slog.Int64("user_id", claimed.UserID))
		return OutcomeLinked
	case errors.Is(err, repository.ErrChatAlreadyLinked):
		return OutcomeAlreadyLinked
	case errors.Is(err, repository.ErrNotFound):
		return OutcomeInvalidToken
	default:
		log.ErrorContext(ctx, "linking: failed to claim token", slog.Any("error", err))
		return OutcomeTemporaryError
	}
}
