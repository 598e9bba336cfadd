package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/habitflow/notifier/internal/bot/handlers"
	"github.com/habitflow/notifier/pkg/metrics"
)

// Metrics measures execution time and status for bot handlers, reporting them to Prometheus.
func Metrics(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordBotUpdate(updateKind(c), status, time.Since(start))

		return err
	}
}

// updateKind keeps label cardinality bounded: commands by name, all other text as "text".
func updateKind(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	text := c.Text()
	switch {
	case strings.HasPrefix(text, "/"):
		cmd, _, _ := strings.Cut(text, " ")
		cmd, _, _ = strings.Cut(cmd, "@")
		return cmd
	case text != "":
		return "text"
	default:
		return "other"
	}
}
