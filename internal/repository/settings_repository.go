package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/habitflow/notifier/internal/domain"
)

const (
	uniqueViolation = "23505"

	constraintEnabledUser = "ux_notification_settings_enabled_user"
	constraintChat        = "ux_notification_settings_chat"
	constraintLinkToken   = "ux_notification_settings_link_token"
)

const settingsColumns = `id, user_id, channel, address, address_kind, enabled, status, created_at, updated_at, expiry_at`

type settingsRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSettingsRepository creates a PostgreSQL-backed settings repository.
func NewSettingsRepository(db *sql.DB, log *slog.Logger) SettingsRepository {
	return &settingsRepository{
		db:  db,
		log: log,
	}
}

func (r *settingsRepository) GetEnabledByUser(ctx context.Context, userID int64) (*domain.Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM notification_settings WHERE user_id = $1 AND enabled`

	settings, err := scanSettings(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if r.log != nil {
			r.log.Error("failed to fetch settings", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return nil, fmt.Errorf("select settings by user: %w", err)
	}

	return settings, nil
}

func (r *settingsRepository) Create(ctx context.Context, settings *domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO notification_settings
			(user_id, channel, address, address_kind, enabled, status, created_at, updated_at, expiry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	address, kind := domain.EncodeAddress(settings.Address)

	err := r.db.QueryRowContext(
		ctx,
		query,
		settings.UserID,
		string(settings.Channel),
		address,
		string(kind),
		settings.Enabled,
		string(settings.Status),
		settings.CreatedAt,
		settings.UpdatedAt,
		settings.ExpiryAt,
	).Scan(&settings.ID)
	if err != nil {
		if mapped := mapConstraint(err); mapped != nil {
			return mapped
		}
		if r.log != nil {
			r.log.Error("failed to create settings", slog.Int64("user_id", settings.UserID), slog.Any("error", err))
		}
		return fmt.Errorf("insert settings: %w", err)
	}

	return nil
}

func (r *settingsRepository) Update(ctx context.Context, settings *domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	const query = `
		UPDATE notification_settings
		SET channel = $2, address = $3, address_kind = $4, enabled = $5, status = $6, updated_at = $7, expiry_at = $8
		WHERE id = $1
	`

	address, kind := domain.EncodeAddress(settings.Address)

	res, err := r.db.ExecContext(
		ctx,
		query,
		settings.ID,
		string(settings.Channel),
		address,
		string(kind),
		settings.Enabled,
		string(settings.Status),
		settings.UpdatedAt,
		settings.ExpiryAt,
	)
	if err != nil {
		if mapped := mapConstraint(err); mapped != nil {
			return mapped
		}
		if r.log != nil {
			r.log.Error("failed to update settings", slog.Int64("id", settings.ID), slog.Any("error", err))
		}
		return fmt.Errorf("update settings: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update settings rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *settingsRepository) FindConfirmedByChat(ctx context.Context, chat domain.ChatID) (*domain.Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM notification_settings
		WHERE address = $1 AND address_kind = 'chat_id' AND status = 'CONFIRMED'`

	settings, err := scanSettings(r.db.QueryRowContext(ctx, query, chat.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select settings by chat: %w", err)
	}

	return settings, nil
}

func (r *settingsRepository) FindByEmail(ctx context.Context, email domain.EmailAddress) (*domain.Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM notification_settings
		WHERE address = $1 AND address_kind = 'email' AND enabled
		ORDER BY id LIMIT 1`

	settings, err := scanSettings(r.db.QueryRowContext(ctx, query, email.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select settings by email: %w", err)
	}

	return settings, nil
}

func (r *settingsRepository) MarkFailed(ctx context.Context, snapshot *domain.Settings, now time.Time) (bool, error) {
	const query = `
		UPDATE notification_settings
		SET status = 'FAILED', updated_at = $6
		WHERE id = $1 AND channel = $2 AND status = $3
			AND address IS NOT DISTINCT FROM $4 AND address_kind = $5
	`

	address, kind := domain.EncodeAddress(snapshot.Address)

	res, err := r.db.ExecContext(
		ctx,
		query,
		snapshot.ID,
		string(snapshot.Channel),
		string(snapshot.Status),
		address,
		string(kind),
		now,
	)
	if err != nil {
		return false, fmt.Errorf("mark settings failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark settings failed rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *settingsRepository) ClaimLinkToken(ctx context.Context, token domain.LinkToken, chat domain.ChatID, now time.Time) (*domain.Settings, error) {
	query := `
		UPDATE notification_settings
		SET channel = 'TELEGRAM', address = $2, address_kind = 'chat_id', status = 'CONFIRMED',
			expiry_at = NULL, updated_at = $3
		WHERE address = $1 AND address_kind = 'link_token' AND status IN ('PENDING', 'FAILED') AND expiry_at > $3
		RETURNING ` + settingsColumns

	settings, err := scanSettings(r.db.QueryRowContext(ctx, query, token.String(), chat.String(), now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if mapped := mapConstraint(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("claim link token: %w", err)
	}

	return settings, nil
}

func (r *settingsRepository) FetchAfter(ctx context.Context, afterID int64, limit int) ([]*domain.Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM notification_settings WHERE id > $1 ORDER BY id LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select settings batch: %w", err)
	}
	defer rows.Close()

	var batch []*domain.Settings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settings batch: %w", err)
		}
		batch = append(batch, settings)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings batch: %w", err)
	}

	return batch, nil
}

func (r *settingsRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM notification_settings WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete settings: %w", err)
	}

	return res.RowsAffected()
}

func (r *settingsRepository) DeleteExpiredLinkTokens(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	const query = `
		DELETE FROM notification_settings
		WHERE id = ANY($1) AND address_kind = 'link_token' AND expiry_at <= $2
	`

	res, err := r.db.ExecContext(ctx, query, pq.Array(ids), now)
	if err != nil {
		return 0, fmt.Errorf("delete expired link tokens: %w", err)
	}

	return res.RowsAffected()
}

func (r *settingsRepository) CountByChannelStatus(ctx context.Context) (map[ChannelStatus]int, error) {
	const query = `SELECT channel, status, COUNT(*) FROM notification_settings WHERE enabled GROUP BY channel, status`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count settings: %w", err)
	}
	defer rows.Close()

	counts := make(map[ChannelStatus]int)
	for rows.Next() {
		var (
			channel, status string
			count           int
		)
		if err := rows.Scan(&channel, &status, &count); err != nil {
			return nil, fmt.Errorf("scan settings count: %w", err)
		}
		counts[ChannelStatus{Channel: domain.Channel(channel), Status: domain.Status(status)}] = count
	}

	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettings(row rowScanner) (*domain.Settings, error) {
	var (
		settings domain.Settings
		channel  string
		status   string
		kind     string
		address  sql.NullString
		expiry   sql.NullTime
	)

	if err := row.Scan(
		&settings.ID,
		&settings.UserID,
		&channel,
		&address,
		&kind,
		&settings.Enabled,
		&status,
		&settings.CreatedAt,
		&settings.UpdatedAt,
		&expiry,
	); err != nil {
		return nil, err
	}

	settings.Channel = domain.Channel(channel)
	settings.Status = domain.Status(status)

	var raw *string
	if address.Valid {
		raw = &address.String
	}
	decoded, err := domain.DecodeAddress(raw, domain.AddressKind(kind))
	if err != nil {
		return nil, fmt.Errorf("settings %d: %w", settings.ID, err)
	}
	settings.Address = decoded

	if expiry.Valid {
		at := expiry.Time
		settings.ExpiryAt = &at
	}

	return &settings, nil
}

func mapConstraint(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}

	switch pqErr.Constraint {
	case constraintEnabledUser:
		return ErrDuplicateSettings
	case constraintChat:
		return ErrChatAlreadyLinked
	case constraintLinkToken:
		return ErrAddressTaken
	default:
		return fmt.Errorf("unique violation on %s: %w", pqErr.Constraint, err)
	}
}
