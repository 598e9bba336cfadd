// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/habitflow/notifier/internal/domain"
	"github.com/habitflow/notifier/internal/repository"
	"github.com/habitflow/notifier/internal/state"
)

var (
	notificationsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Dispatch attempts labeled by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
	linkAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_attempts_total",
			Help: "Telegram link attempts labeled by outcome",
		},
		[]string{"outcome"},
	)
	channelTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_transitions_total",
			Help: "Total number of notification channel transitions",
		},
		[]string{"from", "to"},
	)
	reaperRowsScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_rows_scanned_total",
			Help: "Rows inspected by reconciliation sweeps",
		},
		[]string{"reaper"},
	)
	reaperRowsDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_rows_deleted_total",
			Help: "Rows deleted by reconciliation sweeps",
		},
		[]string{"reaper"},
	)
	reaperCheckFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_check_failures_total",
			Help: "Owner checks that failed and left the row for a later sweep",
		},
		[]string{"reaper"},
	)
	reaperCursor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reaper_cursor",
			Help: "Last row id processed by each reaper",
		},
		[]string{"reaper"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Internal API requests labeled by route, method and status",
		},
		[]string{"route", "method", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Internal API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	botUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Telegram updates received labeled by kind and status",
		},
		[]string{"kind", "status"},
	)
	botUpdateDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_update_duration_seconds",
			Help:    "Duration of Telegram update handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	remindersSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_reminders_total",
			Help: "Habit reminders labeled by outcome",
		},
		[]string{"outcome"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_open",
			Help: "1 while the named circuit breaker is not closed",
		},
		[]string{"name"},
	)
	settingsByChannel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_settings",
			Help: "Enabled settings rows per channel and status",
		},
		[]string{"channel", "status"},
	)
)

func init() {
	state.RegisterTransitionRecorder(RecordStateTransition)
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// RecordDispatch counts one DispatchRouter outcome.
func RecordDispatch(channel, outcome string) {
	notificationsDispatchedTotal.WithLabelValues(orUnknown(channel), orUnknown(outcome)).Inc()
}

// RecordLinkAttempt counts one processed linking event.
func RecordLinkAttempt(outcome string) {
	linkAttemptsTotal.WithLabelValues(orUnknown(outcome)).Inc()
}

// RecordStateTransition tracks channel lifecycle transitions.
func RecordStateTransition(from, to string) {
	channelTransitionsTotal.WithLabelValues(orUnknown(from), orUnknown(to)).Inc()
}

// RecordReaperSweep adds the counters of a single tick.
func RecordReaperSweep(reaper string, scanned, deleted, checkFailures int, cursor int64) {
	reaper = orUnknown(reaper)
	reaperRowsScannedTotal.WithLabelValues(reaper).Add(float64(scanned))
	reaperRowsDeletedTotal.WithLabelValues(reaper).Add(float64(deleted))
	reaperCheckFailuresTotal.WithLabelValues(reaper).Add(float64(checkFailures))
	reaperCursor.WithLabelValues(reaper).Set(float64(cursor))
}

// RecordHTTPRequest records an internal API request.
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	route = orUnknown(route)
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordBotUpdate increments update counters and records duration.
func RecordBotUpdate(kind, status string, duration time.Duration) {
	kind = orUnknown(kind)
	botUpdatesTotal.WithLabelValues(kind, orUnknown(status)).Inc()
	botUpdateDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordReminder counts one habit reminder outcome.
func RecordReminder(outcome string) {
	remindersSentTotal.WithLabelValues(orUnknown(outcome)).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	errorsTotal.WithLabelValues(orUnknown(errType), orUnknown(severity)).Inc()
}

// SetBreakerOpen flags whether the named circuit breaker is rejecting calls.
func SetBreakerOpen(name string, open bool) {
	value := 0.0
	if open {
		value = 1
	}
	breakerState.WithLabelValues(orUnknown(name)).Set(value)
}

// SettingsCounter reports how many enabled rows sit in each channel and status.
type SettingsCounter interface {
	CountByChannelStatus(ctx context.Context) (map[repository.ChannelStatus]int, error)
}

var trackedPhases = []repository.ChannelStatus{
	{Channel: domain.ChannelEmail, Status: domain.StatusPending},
	{Channel: domain.ChannelEmail, Status: domain.StatusConfirmed},
	{Channel: domain.ChannelEmail, Status: domain.StatusFailed},
	{Channel: domain.ChannelTelegram, Status: domain.StatusPending},
	{Channel: domain.ChannelTelegram, Status: domain.StatusConfirmed},
	{Channel: domain.ChannelTelegram, Status: domain.StatusFailed},
	{Channel: domain.ChannelNone, Status: domain.StatusDisabled},
}

// SettingsCollector periodically refreshes the per-channel settings gauges.
type SettingsCollector struct {
	counter  SettingsCounter
	interval time.Duration
	log      *slog.Logger
}

// NewSettingsCollector builds a collector polling counter every interval.
func NewSettingsCollector(counter SettingsCounter, interval time.Duration, log *slog.Logger) *SettingsCollector {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &SettingsCollector{counter: counter, interval: interval, log: log}
}

// Run polls until ctx is cancelled.
func (c *SettingsCollector) Run(ctx context.Context) {
	if c == nil || c.counter == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Collect(ctx); err != nil {
			c.log.Warn("settings gauge refresh failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Collect refreshes the gauges once.
func (c *SettingsCollector) Collect(ctx context.Context) error {
	counts, err := c.counter.CountByChannelStatus(ctx)
	if err != nil {
		return err
	}

	settingsByChannel.Reset()

	for _, tracked := range trackedPhases {
		settingsByChannel.WithLabelValues(string(tracked.Channel), string(tracked.Status)).Set(float64(counts[tracked]))
		delete(counts, tracked)
	}

	for key, count := range counts {
		settingsByChannel.WithLabelValues(string(key.Channel), string(key.Status)).Set(float64(count))
	}

	return nil
}
