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

type habitRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewHabitRepository creates a PostgreSQL-backed habit repository.
func NewHabitRepository(db *sql.DB, log *slog.Logger) HabitRepository {
	return &habitRepository{
		db:  db,
		log: log,
	}
}

func (r *habitRepository) FetchAfter(ctx context.Context, afterID int64, limit int) ([]*domain.Habit, error) {
	const query = `
		SELECT id, user_id, title, status, created_at, updated_at
		FROM habit
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`

	return r.query(ctx, query, afterID, limit)
}

func (r *habitRepository) ListUntrackedActive(ctx context.Context, day time.Time) ([]*domain.Habit, error) {
	const query = `
		SELECT h.id, h.user_id, h.title, h.status, h.created_at, h.updated_at
		FROM habit h
		WHERE h.status = 'ACTIVE'
		  AND NOT EXISTS (
			SELECT 1 FROM habit_tracking t WHERE t.habit_id = h.id AND t.track_date = $1::date
		  )
		ORDER BY h.user_id, h.id
	`

	return r.query(ctx, query, day.Format(time.DateOnly))
}

func (r *habitRepository) DeleteByIDs(ctx context.Context, ids []int64) (deleted int64, err error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin habit delete: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && r.log != nil {
			r.log.Error("rollback habit delete", slog.Any("error", rbErr))
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM habit_tracking WHERE habit_id = ANY($1)`, pq.Array(ids)); err != nil {
		return 0, fmt.Errorf("delete habit trackings: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM habit WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete habits: %w", err)
	}

	if deleted, err = res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("delete habits rows affected: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit habit delete: %w", err)
	}

	return deleted, nil
}

func (r *habitRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Habit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select habits: %w", err)
	}
	defer rows.Close()

	var habits []*domain.Habit
	for rows.Next() {
		var (
			habit  domain.Habit
			status string
		)
		if err := rows.Scan(&habit.ID, &habit.UserID, &habit.Title, &status, &habit.CreatedAt, &habit.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan habit: %w", err)
		}
		habit.Status = domain.HabitStatus(status)
		habits = append(habits, &habit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate habits: %w", err)
	}

	return habits, nil
}
