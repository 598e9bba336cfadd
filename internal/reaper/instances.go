package reaper

import (
	"log/slog"
	"time"

	"github.com/habitflow/notifier/internal/domain"
	"github.com/habitflow/notifier/internal/repository"
	"github.com/habitflow/notifier/pkg/config"
)

const (
	settingsBatchSize = 10
	habitsBatchSize   = 5
)

// NewSettingsReaper also removes rows holding a link token that expired unclaimed.
func NewSettingsReaper(repo repository.SettingsRepository, owners OwnerChecker, cfg config.ReaperJobConfig, log *slog.Logger) *Reaper[*domain.Settings] {
	return New[*domain.Settings](repo, owners, Config[*domain.Settings]{
		Name:      "settings",
		BatchSize: orDefault(cfg.BatchSize, settingsBatchSize),
		Interval:  cfg.Interval,
		Expired: func(row *domain.Settings, now time.Time) bool {
			return row.LinkTokenExpired(now)
		},
		DeleteExpired: repo.DeleteExpiredLinkTokens,
	}, log)
}

func NewHabitReaper(repo repository.HabitRepository, owners OwnerChecker, cfg config.ReaperJobConfig, log *slog.Logger) *Reaper[*domain.Habit] {
	return New[*domain.Habit](repo, owners, Config[*domain.Habit]{
		Name:      "habits",
		BatchSize: orDefault(cfg.BatchSize, habitsBatchSize),
		Interval:  cfg.Interval,
	}, log)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
