package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitflow/notifier/internal/domain"
)

var settingsColumnNames = strings.Split(strings.ReplaceAll(settingsColumns, " ", ""), ",")

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, dbMock
}

// sqlPattern matches statements containing every fragment in order.
func sqlPattern(fragments ...string) string {
	quoted := make([]string, len(fragments))
	for i, fragment := range fragments {
		quoted[i] = regexp.QuoteMeta(fragment)
	}
	return strings.Join(quoted, ".*")
}

func TestSettingsRepositoryGetEnabledByUser(t *testing.T) {
	db, dbMock := newMockDB(t)
	repo := NewSettingsRepository(db, nil)
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	expiry := now.Add(24 * time.Hour)

	dbMock.ExpectQuery(sqlPattern("FROM notification_settings WHERE user_id = $1 AND enabled")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(settingsColumnNames).
			AddRow(int64(3), int64(7), "TELEGRAM", "a1b2c3d4e5", "link_token", true, "PENDING", now, now, expiry))

	settings, err := repo.GetEnabledByUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.LinkToken("a1b2c3d4e5"), settings.Address)
	assert.Equal(t, domain.StatusPending, settings.Status)
	require.NotNil(t, settings.ExpiryAt)
	assert.Equal(t, expiry, *settings.ExpiryAt)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestSettingsRepositoryClaimLinkToken(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	claim := sqlPattern(
		"UPDATE notification_settings",
		"SET channel = 'TELEGRAM', address = $2, address_kind = 'chat_id', status = 'CONFIRMED'",
		"WHERE address = $1 AND address_kind = 'link_token' AND status IN ('PENDING', 'FAILED') AND expiry_at > $3",
		"RETURNING id, user_id",
	)

	t.Run("claims token", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectQuery(claim).
			WithArgs("a1b2c3d4e5", "555", now).
			WillReturnRows(sqlmock.NewRows(settingsColumnNames).
				AddRow(int64(3), int64(7), "TELEGRAM", "555", "chat_id", true, "CONFIRMED", now, now, nil))

		claimed, err := NewSettingsRepository(db, nil).ClaimLinkToken(context.Background(), "a1b2c3d4e5", 555, now)
		require.NoError(t, err)
		assert.Equal(t, int64(7), claimed.UserID)
		assert.Equal(t, domain.ChatID(555), claimed.Address)
		assert.Equal(t, domain.StatusConfirmed, claimed.Status)
		assert.Nil(t, claimed.ExpiryAt)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("no matching token", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectQuery(claim).
			WithArgs("a1b2c3d4e5", "555", now).
			WillReturnRows(sqlmock.NewRows(settingsColumnNames))

		_, err := NewSettingsRepository(db, nil).ClaimLinkToken(context.Background(), "a1b2c3d4e5", 555, now)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("chat linked to another user", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectQuery(claim).
			WithArgs("a1b2c3d4e5", "555", now).
			WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: constraintChat})

		_, err := NewSettingsRepository(db, nil).ClaimLinkToken(context.Background(), "a1b2c3d4e5", 555, now)
		assert.ErrorIs(t, err, ErrChatAlreadyLinked)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestSettingsRepositoryCreateMapsDuplicateUser(t *testing.T) {
	db, dbMock := newMockDB(t)
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	dbMock.ExpectQuery(sqlPattern("INSERT INTO notification_settings", "RETURNING id")).
		WithArgs(int64(7), "EMAIL", "a@b.c", "email", true, "PENDING", now, now, nil).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: constraintEnabledUser})

	err := NewSettingsRepository(db, nil).Create(context.Background(), &domain.Settings{
		UserID:    7,
		Channel:   domain.ChannelEmail,
		Address:   domain.EmailAddress("a@b.c"),
		Enabled:   true,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})

	assert.ErrorIs(t, err, ErrDuplicateSettings)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestSettingsRepositoryMarkFailed(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	snapshot := &domain.Settings{
		ID:       3,
		UserID:   7,
		Channel:  domain.ChannelTelegram,
		Address:  domain.LinkToken("a1b2c3d4e5"),
		Enabled:  true,
		Status:   domain.StatusPending,
		ExpiryAt: &expiry,
	}
	markFailed := sqlPattern(
		"SET status = 'FAILED', updated_at = $6",
		"WHERE id = $1 AND channel = $2 AND status = $3",
		"address IS NOT DISTINCT FROM $4 AND address_kind = $5",
	)

	testCases := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "row unchanged", affected: 1, want: true},
		{name: "row changed since read", affected: 0, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db, dbMock := newMockDB(t)
			dbMock.ExpectExec(markFailed).
				WithArgs(int64(3), "TELEGRAM", "PENDING", "a1b2c3d4e5", "link_token", now).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			marked, err := NewSettingsRepository(db, nil).MarkFailed(context.Background(), snapshot, now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, marked)
			assert.NoError(t, dbMock.ExpectationsWereMet())
		})
	}

	t.Run("address cleared", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectExec(markFailed).
			WithArgs(int64(4), "TELEGRAM", "PENDING", nil, "none", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		marked, err := NewSettingsRepository(db, nil).MarkFailed(context.Background(), &domain.Settings{
			ID:      4,
			Channel: domain.ChannelTelegram,
			Status:  domain.StatusPending,
		}, now)
		require.NoError(t, err)
		assert.True(t, marked)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestSettingsRepositoryDeleteExpiredLinkTokens(t *testing.T) {
	db, dbMock := newMockDB(t)
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	dbMock.ExpectExec(sqlPattern("DELETE FROM notification_settings", "WHERE id = ANY($1) AND address_kind = 'link_token' AND expiry_at <= $2")).
		WithArgs(pq.Array([]int64{1, 2}), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := NewSettingsRepository(db, nil).DeleteExpiredLinkTokens(context.Background(), []int64{1, 2}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = NewSettingsRepository(db, nil).DeleteExpiredLinkTokens(context.Background(), nil, now)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestMapConstraint(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want error
	}{
		{name: "enabled user", err: &pq.Error{Code: uniqueViolation, Constraint: constraintEnabledUser}, want: ErrDuplicateSettings},
		{name: "chat", err: &pq.Error{Code: uniqueViolation, Constraint: constraintChat}, want: ErrChatAlreadyLinked},
		{name: "link token", err: &pq.Error{Code: uniqueViolation, Constraint: constraintLinkToken}, want: ErrAddressTaken},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, mapConstraint(tc.err), tc.want)
		})
	}

	t.Run("unknown constraint keeps cause", func(t *testing.T) {
		cause := &pq.Error{Code: uniqueViolation, Constraint: "ux_other"}
		mapped := mapConstraint(cause)
		require.Error(t, mapped)
		assert.ErrorIs(t, mapped, cause)
		assert.Contains(t, mapped.Error(), "ux_other")
	})

	t.Run("not a unique violation", func(t *testing.T) {
		assert.NoError(t, mapConstraint(&pq.Error{Code: "40001"}))
		assert.NoError(t, mapConstraint(errors.New("connection reset")))
	})
}

func TestHabitRepositoryDeleteByIDs(t *testing.T) {
	ids := []int64{4, 5}
	deleteTracking := sqlPattern("DELETE FROM habit_tracking WHERE habit_id = ANY($1)")
	deleteHabits := sqlPattern("DELETE FROM habit WHERE id = ANY($1)")

	t.Run("commits both deletes", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectBegin()
		dbMock.ExpectExec(deleteTracking).WithArgs(pq.Array(ids)).WillReturnResult(sqlmock.NewResult(0, 9))
		dbMock.ExpectExec(deleteHabits).WithArgs(pq.Array(ids)).WillReturnResult(sqlmock.NewResult(0, 2))
		dbMock.ExpectCommit()

		deleted, err := NewHabitRepository(db, nil).DeleteByIDs(context.Background(), ids)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("rolls back when habit delete fails", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectBegin()
		dbMock.ExpectExec(deleteTracking).WithArgs(pq.Array(ids)).WillReturnResult(sqlmock.NewResult(0, 9))
		dbMock.ExpectExec(deleteHabits).WithArgs(pq.Array(ids)).WillReturnError(errors.New("deadlock detected"))
		dbMock.ExpectRollback()

		deleted, err := NewHabitRepository(db, nil).DeleteByIDs(context.Background(), ids)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "delete habits")
		assert.Zero(t, deleted)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
