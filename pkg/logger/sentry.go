package logger

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/habitflow/notifier/pkg/config"
)

// InitSentry configures the global Sentry hub. The returned func flushes buffered events.
func InitSentry(cfg config.Config) (func(), error) {
	if !cfg.Sentry.Enabled {
		return func() {}, nil
	}

	environment := cfg.Sentry.Environment
	if environment == "" {
		environment = cfg.AppEnv
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: environment,
		SampleRate:  cfg.Sentry.SampleRate,
	}); err != nil {
		return func() {}, fmt.Errorf("init sentry: %w", err)
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}
