// Package bot is the Telegram transport: it feeds inbound text to the linking queue and delivers outbound messages.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/habitflow/notifier/internal/bot/handlers"
	"github.com/habitflow/notifier/internal/domain"
	errors "github.com/habitflow/notifier/internal/errors"
	"github.com/habitflow/notifier/internal/idempotency"
	"github.com/habitflow/notifier/internal/linking"
	"github.com/habitflow/notifier/internal/middleware"
	"github.com/habitflow/notifier/pkg/config"
)

// Deps are the collaborators the bot wires into its middleware chain.
type Deps struct {
	Queue       linking.Queue
	Texts       handlers.Catalog
	Idempotency idempotency.Manager
	RateLimit   *middleware.RateLimitMiddleware
	ErrHandler  *errors.Handler
	DedupTTL    time.Duration
}

// Bot wraps telebot.Bot with application dependencies required for handling updates.
type Bot struct {
	telebot *telebot.Bot
	router  *Router
	log     *slog.Logger
}

// New builds a telegram bot instance configured according to the application settings.
func New(cfg config.BotConfig, deps Deps, log *slog.Logger) (*Bot, error) {
	settings := telebot.Settings{
		Token: cfg.Token,
	}

	if cfg.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen:   cfg.Listen,
			Endpoint: &telebot.WebhookEndpoint{PublicURL: cfg.WebhookURL},
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout:        cfg.Timeout,
			AllowedUpdates: []string{"message"},
		}
	}

	return newBot(settings, deps, log)
}

func newBot(settings telebot.Settings, deps Deps, log *slog.Logger) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	b := &Bot{
		telebot: tb,
		router:  NewRouter(log),
		log:     log,
	}

	b.setupRouter(deps)
	b.telebot.Handle(telebot.OnText, b.router.Route)

	return b, nil
}

func (b *Bot) setupRouter(deps Deps) {
	b.router.Use(RecoveryMiddleware(b.log, deps.ErrHandler, deps.Texts))
	b.router.Use(LoggingMiddleware(b.log))
	b.router.Use(middleware.Metrics)
	b.router.Use(middleware.Idempotency(deps.Idempotency, deps.DedupTTL, b.log))
	b.router.Use(ErrorHandlingMiddleware(deps.ErrHandler))
	if deps.RateLimit != nil {
		b.router.Use(deps.RateLimit.Handle)
	}

	b.router.RegisterCommand(CommandStart, handlers.NewStartHandler(deps.Texts))
	b.router.SetDefault(handlers.NewLinkHandler(deps.Queue, deps.Texts, b.log))
}

// Start runs the update loop and blocks until Stop is called.
func (b *Bot) Start() {
	b.log.Info("telegram bot started", slog.String("username", b.telebot.Me.Username))
	b.telebot.Start()
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Send delivers text to a chat. Telegram calls are not cancellable, so ctx is only checked up front.
func (b *Bot) Send(ctx context.Context, chatID domain.ChatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := b.telebot.Send(telebot.ChatID(chatID), text); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}

	return nil
}

// HealthCheck calls getMe to confirm the token is valid and the API reachable.
func (b *Bot) HealthCheck(context.Context) error {
	_, err := b.telebot.Raw("getMe", nil)
	return err
}
