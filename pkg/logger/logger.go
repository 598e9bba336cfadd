// Package logger builds the slog pipeline shared by every component.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/habitflow/notifier/pkg/config"
)

// New creates a logger for cfg. See NewWithLevel for runtime level control.
func New(cfg config.Config) *slog.Logger {
	log, _ := NewWithLevel(cfg)
	return log
}

// NewWithLevel creates a logger and returns the LevelVar driving it so callers can change the level at runtime.
func NewWithLevel(cfg config.Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Logger.Level))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Logger.Level == "debug",
	}

	out := writer(cfg.Logger)

	var base slog.Handler
	if strings.EqualFold(cfg.Logger.Format, "text") {
		base = slog.NewTextHandler(out, opts)
	} else {
		base = slog.NewJSONHandler(out, opts)
	}

	handler := slog.Handler(NewMaskingHandler(base))
	if cfg.Sentry.Enabled {
		sentryHandler := slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()
		handler = &teeHandler{handlers: []slog.Handler{handler, NewMaskingHandler(sentryHandler)}}
	}

	log := slog.New(handler).With(
		slog.String("service", "notifier"),
		slog.String("env", cfg.AppEnv),
	)

	return log, level
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writer(cfg config.LoggerConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	return io.MultiWriter(os.Stdout, rotating)
}

// teeHandler forwards every record to all wrapped handlers that accept its level.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		next = append(next, h.WithAttrs(attrs))
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		next = append(next, h.WithGroup(name))
	}
	return &teeHandler{handlers: next}
}
