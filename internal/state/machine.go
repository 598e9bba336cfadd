package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/habitflow/notifier/internal/domain"
	apperrors "github.com/habitflow/notifier/internal/errors"
	"github.com/habitflow/notifier/internal/repository"
)

const (
	userLockKeyPattern = "notifier:settings:lock:%d"
	lockTTL            = 5 * time.Second

	maxTokenAttempts = 3
	defaultTokenTTL  = 24 * time.Hour

	linkTokenSubject = "Your Telegram token for HabitFlow"
)

var (
	// ErrInvalidTransition indicates that a requested lifecycle move is not allowed.
	ErrInvalidTransition = errors.New("invalid channel transition")
	// ErrStateLocked indicates that a concurrent operation already holds the lock.
	ErrStateLocked = errors.New("settings are locked, try again later")
)

// releaseLock deletes the lock only while it still holds the caller's value.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe lifecycle transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// RecordTransition reports a transition performed outside the machine, such as a link claim.
func RecordTransition(from, to Phase) {
	transitionRecorder(from.String(), to.String())
}

// Options tunes a Machine. Zero values fall back to defaults.
type Options struct {
	TokenTTL time.Duration
	Now      func() time.Time
	NewToken func() domain.LinkToken
}

// Machine applies channel lifecycle operations to a user's enabled settings row.
type Machine struct {
	storage     Storage
	mailer      Mailer
	log         *slog.Logger
	redisClient *redis.Client
	tokenTTL    time.Duration
	now         func() time.Time
	newToken    func() domain.LinkToken
}

// NewMachine creates a lifecycle controller. A nil redis client disables the per-user lock.
func NewMachine(storage Storage, mailer Mailer, log *slog.Logger, redisClient *redis.Client, opts Options) *Machine {
	if log == nil {
		log = slog.Default()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewToken == nil {
		opts.NewToken = NewLinkToken
	}

	return &Machine{
		storage:     storage,
		mailer:      mailer,
		log:         log,
		redisClient: redisClient,
		tokenTTL:    opts.TokenTTL,
		now:         opts.Now,
		newToken:    opts.NewToken,
	}
}

// Get returns the enabled settings row for userID.
func (m *Machine) Get(ctx context.Context, userID int64) (*domain.Settings, error) {
	settings, err := m.storage.GetEnabledByUser(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}
	return settings, nil
}

// CreateInitial registers a new user on the email channel, pending verification.
func (m *Machine) CreateInitial(ctx context.Context, userID int64, email string) (*domain.Settings, error) {
	if email == "" {
		return nil, apperrors.NewInvalidRequestError("email is required")
	}

	held, err := m.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer m.unlock(ctx, userID, held)

	now := m.now()
	settings := &domain.Settings{
		UserID:    userID,
		Channel:   domain.ChannelEmail,
		Address:   domain.EmailAddress(email),
		Enabled:   true,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.storage.Create(ctx, settings); err != nil {
		return nil, storageError(err)
	}

	transitionRecorder(PhaseNew.String(), PhaseEmailPending.String())
	m.log.Info("notification settings created", slog.Int64("user_id", userID))

	return settings, nil
}

// ConfirmEmail marks the user's email verified and makes it the active channel.
func (m *Machine) ConfirmEmail(ctx context.Context, userID int64, email string) (*domain.Settings, error) {
	if email == "" {
		return nil, apperrors.NewInvalidRequestError("email is required")
	}

	return m.mutate(ctx, userID, func(settings *domain.Settings) error {
		settings.Channel = domain.ChannelEmail
		settings.Address = domain.EmailAddress(email)
		settings.Status = domain.StatusConfirmed
		settings.ExpiryAt = nil
		return nil
	})
}

// SwitchChannel selects a new delivery channel. Selecting the current channel is a no-op.
func (m *Machine) SwitchChannel(ctx context.Context, userID int64, channel domain.Channel, userEmail string) (*domain.Settings, error) {
	held, err := m.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer m.unlock(ctx, userID, held)

	settings, err := m.storage.GetEnabledByUser(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}

	if settings.Channel == channel {
		return settings, nil
	}

	from := PhaseOf(settings)

	switch channel {
	case domain.ChannelTelegram:
		settings.Address = nil
		settings.Status = domain.StatusPending
	case domain.ChannelEmail:
		if userEmail == "" {
			return nil, apperrors.NewInvalidRequestError("email is required to select the email channel")
		}
		settings.Address = domain.EmailAddress(userEmail)
		settings.Status = domain.StatusConfirmed
	case domain.ChannelNone:
		settings.Address = nil
		settings.Status = domain.StatusDisabled
	default:
		return nil, apperrors.NewInvalidRequestError(fmt.Sprintf("unknown channel %q", channel))
	}

	settings.Channel = channel
	settings.ExpiryAt = nil

	if err := m.save(ctx, from, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// RegenerateLinkToken issues a fresh Telegram link token and mails it to the user.
func (m *Machine) RegenerateLinkToken(ctx context.Context, userID int64, email, username string) (domain.LinkToken, error) {
	held, err := m.lock(ctx, userID)
	if err != nil {
		return "", err
	}
	defer m.unlock(ctx, userID, held)

	settings, err := m.storage.GetEnabledByUser(ctx, userID)
	if err != nil {
		return "", storageError(err)
	}

	from := PhaseOf(settings)

	switch settings.Channel {
	case domain.ChannelTelegram:
	case domain.ChannelEmail:
		settings.Status = domain.StatusFailed
		if err := m.save(ctx, from, settings); err != nil {
			return "", err
		}
		return "", apperrors.NewForbiddenError("telegram channel is not selected")
	case domain.ChannelNone:
		// a disabled row must stay DISABLED, so nothing is written
		return "", apperrors.NewForbiddenError("telegram channel is not selected")
	default:
		return "", apperrors.NewInvalidRequestError(fmt.Sprintf("unknown channel %q", settings.Channel))
	}

	var token domain.LinkToken
	for attempt := 1; ; attempt++ {
		token = m.newToken()
		expiry := m.now().Add(m.tokenTTL)

		settings.Address = token
		settings.Status = domain.StatusPending
		settings.ExpiryAt = &expiry

		err := m.save(ctx, from, settings)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrAddressTaken) {
			return "", err
		}
		if attempt == maxTokenAttempts {
			return "", apperrors.NewInternalError(fmt.Errorf("allocate link token: %w", err))
		}

		m.log.Warn("link token collision, retrying", slog.Int64("user_id", userID), slog.Int("attempt", attempt))
	}

	m.log.Info("telegram link token issued", slog.Int64("user_id", userID))

	if m.mailer == nil {
		return token, nil
	}

	if err := m.mailer.SendEmail(ctx, email, linkTokenSubject, linkTokenBody(username, token, m.tokenTTL)); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return token, err
		}
		return token, apperrors.NewSendFailedError("email", err)
	}

	return token, nil
}

// MarkFailed sets the advisory FAILED status on settings. NONE rows are left untouched.
// The write only lands while the stored row still matches settings, so a link claimed
// or a channel switched after settings was read is never overwritten.
func (m *Machine) MarkFailed(ctx context.Context, settings *domain.Settings) error {
	if settings == nil || settings.Channel == domain.ChannelNone || settings.Status == domain.StatusFailed {
		return nil
	}

	from := PhaseOf(settings)
	failed := *settings
	failed.Status = domain.StatusFailed
	to := PhaseOf(&failed)
	if !IsTransitionAllowed(from, to) {
		return apperrors.NewInternalError(ErrInvalidTransition)
	}

	now := m.now()
	applied, err := m.storage.MarkFailed(ctx, settings, now)
	if err != nil {
		return storageError(err)
	}
	if !applied {
		m.log.Info("settings changed since read, failure not recorded",
			slog.Int64("user_id", settings.UserID),
			slog.String("phase", from.String()),
		)
		return nil
	}

	settings.Status = domain.StatusFailed
	settings.UpdatedAt = now

	if from != to {
		transitionRecorder(from.String(), to.String())
	}

	return nil
}

func (m *Machine) mutate(ctx context.Context, userID int64, apply func(*domain.Settings) error) (*domain.Settings, error) {
	held, err := m.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer m.unlock(ctx, userID, held)

	settings, err := m.storage.GetEnabledByUser(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}

	from := PhaseOf(settings)
	if err := apply(settings); err != nil {
		return nil, err
	}

	if err := m.save(ctx, from, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

func (m *Machine) save(ctx context.Context, from Phase, settings *domain.Settings) error {
	to := PhaseOf(settings)
	if !IsTransitionAllowed(from, to) {
		m.log.Warn("invalid channel transition",
			slog.Int64("user_id", settings.UserID),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		return apperrors.NewInternalError(ErrInvalidTransition)
	}

	settings.UpdatedAt = m.now()

	if err := m.storage.Update(ctx, settings); err != nil {
		if errors.Is(err, repository.ErrAddressTaken) {
			return err
		}
		return storageError(err)
	}

	if from != to {
		transitionRecorder(from.String(), to.String())
	}

	return nil
}

func storageError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError("notification settings not found")
	case errors.Is(err, repository.ErrDuplicateSettings):
		return apperrors.NewInvalidRequestError("settings already exist")
	case errors.Is(err, repository.ErrChatAlreadyLinked):
		return apperrors.NewConflictError("telegram account already linked", err)
	case errors.Is(err, domain.ErrInvalidSettings):
		return apperrors.NewInternalError(err)
	default:
		return apperrors.NewDatabaseError(err)
	}
}

func linkTokenBody(username string, token domain.LinkToken, ttl time.Duration) string {
	return fmt.Sprintf(
		"Hi %s!\n\nHere is your Telegram token. It is valid for %d hours:\n\n%s\n\nStart the bot and enter this token.",
		username,
		int(ttl.Hours()),
		token,
	)
}

func (m *Machine) lock(ctx context.Context, userID int64) (string, error) {
	if m.redisClient == nil {
		return "", nil
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	held := uuid.NewString()
	acquired, err := m.redisClient.SetNX(ctx, key, held, lockTTL).Result()
	if err != nil {
		m.log.Error("failed to acquire settings lock", slog.Int64("user_id", userID), slog.Any("error", err))
		return "", apperrors.NewDatabaseError(err)
	}

	if !acquired {
		m.log.Warn("settings lock already held", slog.Int64("user_id", userID))
		return "", apperrors.NewConflictError("settings are being updated, try again", ErrStateLocked)
	}

	return held, nil
}

func (m *Machine) unlock(ctx context.Context, userID int64, held string) {
	if m.redisClient == nil || held == "" {
		return
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	if err := releaseLock.Run(context.WithoutCancel(ctx), m.redisClient, []string{key}, held).Err(); err != nil {
		m.log.Error("failed to release settings lock", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
