// Package api exposes the internal notification endpoints consumed by other HabitFlow services.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/habitflow/notifier/internal/auth"
	"github.com/habitflow/notifier/internal/domain"
	"github.com/habitflow/notifier/internal/idempotency"
	"github.com/habitflow/notifier/internal/lifecycle"
	"github.com/habitflow/notifier/internal/middleware"
	"github.com/habitflow/notifier/pkg/logger"
)

const (
	maxBodyBytes          = 64 << 10
	defaultIdempotencyTTL = 24 * time.Hour

	// IdempotencyHeader lets callers retry dispatch without sending twice.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency store.
	ReplayedHeader = "Idempotent-Replayed"
)

// SettingsService is implemented by state.Machine.
type SettingsService interface {
	Get(ctx context.Context, userID int64) (*domain.Settings, error)
	CreateInitial(ctx context.Context, userID int64, email string) (*domain.Settings, error)
	ConfirmEmail(ctx context.Context, userID int64, email string) (*domain.Settings, error)
	SwitchChannel(ctx context.Context, userID int64, channel domain.Channel, userEmail string) (*domain.Settings, error)
	RegenerateLinkToken(ctx context.Context, userID int64, email, username string) (domain.LinkToken, error)
}

// Dispatcher is implemented by dispatch.Router.
type Dispatcher interface {
	Notify(ctx context.Context, username, subject, message string) error
	SendEmail(ctx context.Context, to, subject, body string) error
}

type Deps struct {
	Settings       SettingsService
	Dispatcher     Dispatcher
	Tokens         *auth.Tokens
	Probes         lifecycle.HealthChecker
	Errors         ErrorHandler
	Idempotency    idempotency.Manager
	IdempotencyTTL time.Duration
}

type Server struct {
	settings   SettingsService
	dispatcher Dispatcher
	tokens     *auth.Tokens
	probes     lifecycle.HealthChecker
	errors     ErrorHandler
	idem       idempotency.Manager
	idemTTL    time.Duration
	validate   *validator.Validate
	log        *slog.Logger
	now        func() time.Time
}

func NewServer(deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return &Server{
		settings:   deps.Settings,
		dispatcher: deps.Dispatcher,
		tokens:     deps.Tokens,
		probes:     deps.Probes,
		errors:     deps.Errors,
		idem:       deps.Idempotency,
		idemTTL:    ttl,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		log:        log,
		now:        time.Now,
	}
}

// Handler returns the full route tree wrapped with correlation ids and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protect := auth.RequireService(s.tokens, s.log)

	mux.Handle("POST /notifications/email", protect(http.HandlerFunc(s.sendEmail)))
	mux.Handle("POST /notifications/create-settings", protect(http.HandlerFunc(s.createSettings)))
	mux.Handle("POST /notifications/update-channel", protect(http.HandlerFunc(s.updateChannel)))
	mux.Handle("POST /notifications/regenerate-tg-token", protect(http.HandlerFunc(s.regenerateToken)))
	mux.Handle("POST /notifications/dispatch", protect(http.HandlerFunc(s.dispatch)))
	mux.Handle("POST /notifications/confirm-email", protect(http.HandlerFunc(s.confirmEmail)))

	mux.HandleFunc("GET /healthz", s.probe(s.probes.Liveness))
	mux.HandleFunc("GET /readyz", s.probe(s.probes.Readiness))
	mux.Handle("GET /metrics", promhttp.Handler())

	// the logger must wrap the mux directly so it sees the matched pattern
	return logger.Middleware(middleware.New(s.log)(mux))
}

func (s *Server) probe(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
