// Package handlers processes background job tasks.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/habitflow/notifier/internal/domain"
	"github.com/habitflow/notifier/internal/jobs"
	"github.com/habitflow/notifier/pkg/metrics"
)

const reminderSubject = "Habit Reminder"

type HabitLister interface {
	ListUntrackedActive(ctx context.Context, day time.Time) ([]*domain.Habit, error)
}

type UserLookup interface {
	UsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error)
}

type Notifier interface {
	Notify(ctx context.Context, username, subject, message string) error
}

// HabitReminderHandler nudges users about active habits they have not tracked today.
type HabitReminderHandler struct {
	habits   HabitLister
	users    UserLookup
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

func NewHabitReminderHandler(habits HabitLister, users UserLookup, notifier Notifier, log *slog.Logger) *HabitReminderHandler {
	if log == nil {
		log = slog.Default()
	}

	return &HabitReminderHandler{
		habits:   habits,
		users:    users,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// ProcessTask returns an error only when the run could not start. Per-habit failures are logged and skipped.
func (h *HabitReminderHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.HabitRemindersPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "habit reminders: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("decode payload: %w", asynq.SkipRetry)
	}

	loc := time.UTC
	if payload.Timezone != "" {
		zone, err := time.LoadLocation(payload.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", payload.Timezone, asynq.SkipRetry)
		}
		loc = zone
	}
	today := h.now().In(loc)

	habits, err := h.habits.ListUntrackedActive(ctx, today)
	if err != nil {
		h.log.ErrorContext(ctx, "habit reminders: failed to list habits", slog.Any("error", err))
		return err
	}
	if len(habits) == 0 {
		return nil
	}

	owners, err := h.resolveOwners(ctx, habits)
	if err != nil {
		h.log.ErrorContext(ctx, "habit reminders: failed to fetch users", slog.Any("error", err))
		return err
	}

	sent := 0
	for _, habit := range habits {
		user, ok := owners[habit.UserID]
		if !ok || user.Username == "" {
			metrics.RecordReminder("skipped")
			h.log.WarnContext(ctx, "habit reminders: no valid user for habit",
				slog.Int64("habit_id", habit.ID),
				slog.Int64("user_id", habit.UserID),
			)
			continue
		}

		message := fmt.Sprintf("Don't forget to complete your habit '%s' today! 💪", habit.Title)
		if err := h.notifier.Notify(ctx, user.Username, reminderSubject, message); err != nil {
			metrics.RecordReminder("failed")
			h.log.WarnContext(ctx, "habit reminders: failed to send reminder",
				slog.Int64("habit_id", habit.ID),
				slog.Any("error", err),
			)
			continue
		}

		metrics.RecordReminder("sent")
		sent++
	}

	h.log.InfoContext(ctx, "habit reminders: run finished",
		slog.String("day", today.Format(time.DateOnly)),
		slog.Int("habits", len(habits)),
		slog.Int("sent", sent),
	)

	return nil
}

func (h *HabitReminderHandler) resolveOwners(ctx context.Context, habits []*domain.Habit) (map[int64]*domain.User, error) {
	seen := make(map[int64]struct{}, len(habits))
	ids := make([]int64, 0, len(habits))
	for _, habit := range habits {
		if _, ok := seen[habit.UserID]; ok {
			continue
		}
		seen[habit.UserID] = struct{}{}
		ids = append(ids, habit.UserID)
	}

	users, err := h.users.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	owners := make(map[int64]*domain.User, len(users))
	for _, user := range users {
		if user != nil {
			owners[user.ID] = user
		}
	}

	return owners, nil
}
