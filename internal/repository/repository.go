// Package repository persists notification settings and habit records.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/habitflow/notifier/internal/domain"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateSettings = errors.New("enabled settings already exist for user")
	ErrChatAlreadyLinked = errors.New("chat already linked to another user")
	ErrAddressTaken      = errors.New("link token already in use")
)

// SettingsRepository defines persistence operations for notification settings.
type SettingsRepository interface {
	GetEnabledByUser(ctx context.Context, userID int64) (*domain.Settings, error)
	Create(ctx context.Context, settings *domain.Settings) error
	Update(ctx context.Context, settings *domain.Settings) error
	FindConfirmedByChat(ctx context.Context, chat domain.ChatID) (*domain.Settings, error)
	FindByEmail(ctx context.Context, email domain.EmailAddress) (*domain.Settings, error)
	// MarkFailed flips the row to FAILED only while its channel, status and address still match snapshot.
	// It reports whether the row was changed.
	MarkFailed(ctx context.Context, snapshot *domain.Settings, now time.Time) (bool, error)
	// ClaimLinkToken binds chat to the row holding an unexpired token in one atomic step.
	// A token that was marked FAILED after a delivery attempt stays claimable until it expires.
	ClaimLinkToken(ctx context.Context, token domain.LinkToken, chat domain.ChatID, now time.Time) (*domain.Settings, error)
	FetchAfter(ctx context.Context, afterID int64, limit int) ([]*domain.Settings, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	// DeleteExpiredLinkTokens removes only those ids that still hold a link token expired at now.
	DeleteExpiredLinkTokens(ctx context.Context, ids []int64, now time.Time) (int64, error)
	CountByChannelStatus(ctx context.Context) (map[ChannelStatus]int, error)
}

// HabitRepository exposes the habit rows this service reads and reaps.
type HabitRepository interface {
	FetchAfter(ctx context.Context, afterID int64, limit int) ([]*domain.Habit, error)
	// DeleteByIDs removes habits together with their tracking rows.
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	ListUntrackedActive(ctx context.Context, day time.Time) ([]*domain.Habit, error)
}

// ChannelStatus groups settings rows for gauges.
type ChannelStatus struct {
	Channel domain.Channel
	Status  domain.Status
}
