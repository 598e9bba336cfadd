package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/habitflow/notifier/pkg/config"
)

const (
	defaultReminderCron = "0 20 * * *"
	defaultTimezone     = "Europe/Berlin"
)

type Scheduler interface {
	RegisterTasks() error
	Run() error
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	cfg            config.RemindersConfig
	log            *slog.Logger
}

// NewScheduler evaluates cron specs in the configured reminder timezone.
func NewScheduler(redisOpt asynq.RedisConnOpt, cfg config.RemindersConfig, log *slog.Logger) (Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Cron == "" {
		cfg.Cron = defaultReminderCron
	}
	if cfg.Timezone == "" {
		cfg.Timezone = defaultTimezone
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load reminder timezone: %w", err)
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: loc}),
		cfg:            cfg,
		log:            log,
	}, nil
}

func (s *scheduler) RegisterTasks() error {
	task, err := NewHabitRemindersTask(s.cfg.Timezone)
	if err != nil {
		return err
	}

	if _, err := s.asynqScheduler.Register(s.cfg.Cron, task); err != nil {
		return fmt.Errorf("register habit reminders: %w", err)
	}

	s.log.InfoContext(context.Background(), "scheduler: registered habit reminders",
		slog.String("cron", s.cfg.Cron),
		slog.String("timezone", s.cfg.Timezone),
	)

	return nil
}

// Run starts the scheduler in the background.
func (s *scheduler) Run() error {
	s.log.InfoContext(context.Background(), "scheduler: starting")
	return s.asynqScheduler.Start()
}

func (s *scheduler) Shutdown() {
	s.log.InfoContext(context.Background(), "scheduler: shutting down")
	s.asynqScheduler.Shutdown()
}
