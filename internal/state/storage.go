// Package state drives the notification channel lifecycle of each user.
package state

import (
	"context"
	"time"

	"github.com/habitflow/notifier/internal/domain"
)

// Storage defines the persistence contract the machine needs.
type Storage interface {
	GetEnabledByUser(ctx context.Context, userID int64) (*domain.Settings, error)
	Create(ctx context.Context, settings *domain.Settings) error
	Update(ctx context.Context, settings *domain.Settings) error
	// MarkFailed sets FAILED only if the stored row still matches snapshot.
	MarkFailed(ctx context.Context, snapshot *domain.Settings, now time.Time) (bool, error)
}

// Mailer delivers the link token to the user's inbox.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}
