// Package reaper garbage-collects rows whose owning user no longer exists.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/habitflow/notifier/pkg/metrics"
)

// Record is a row owned by a user.
type Record interface {
	RecordID() int64
	OwnerID() int64
}

// Source pages through rows by ascending id and deletes them in batches.
type Source[T Record] interface {
	FetchAfter(ctx context.Context, afterID int64, limit int) ([]T, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}

// OwnerChecker reports whether a user still exists.
type OwnerChecker interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// Config describes one reaper instance.
type Config[T Record] struct {
	Name      string
	BatchSize int
	Interval  time.Duration
	// Expired marks a row for deletion without asking the owner checker.
	Expired func(row T, now time.Time) bool
	// DeleteExpired removes rows picked by Expired, rechecking expiry at delete time
	// so a row renewed after the fetch survives. Without it DeleteByIDs is used.
	DeleteExpired func(ctx context.Context, ids []int64, now time.Time) (int64, error)
}

// Reaper walks the table a batch per tick, resuming from its cursor.
type Reaper[T Record] struct {
	source Source[T]
	owners OwnerChecker
	cfg    Config[T]
	log    *slog.Logger
	now    func() time.Time

	running sync.Mutex

	mu     sync.Mutex
	cursor int64
}

func New[T Record](source Source[T], owners OwnerChecker, cfg Config[T], log *slog.Logger) *Reaper[T] {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}

	return &Reaper[T]{
		source: source,
		owners: owners,
		cfg:    cfg,
		log:    log.With(slog.String("reaper", cfg.Name)),
		now:    time.Now,
	}
}

// Cursor returns the id of the last row examined.
func (r *Reaper[T]) Cursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Reset restarts the sweep from the first row.
func (r *Reaper[T]) Reset() {
	r.setCursor(0)
}

func (r *Reaper[T]) setCursor(id int64) {
	r.mu.Lock()
	r.cursor = id
	r.mu.Unlock()
}

// Run ticks until ctx is done.
func (r *Reaper[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.InfoContext(ctx, "reaper started",
		slog.Int("batch_size", r.cfg.BatchSize),
		slog.Duration("interval", r.cfg.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			r.log.InfoContext(ctx, "reaper stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick processes one batch. It reports false when a previous tick is still running.
func (r *Reaper[T]) Tick(ctx context.Context) bool {
	if !r.running.TryLock() {
		r.log.WarnContext(ctx, "reaper tick skipped, previous tick still running")
		return false
	}
	defer r.running.Unlock()

	cursor := r.Cursor()
	rows, err := r.source.FetchAfter(ctx, cursor, r.cfg.BatchSize)
	if err != nil {
		r.log.ErrorContext(ctx, "reaper fetch failed", slog.Int64("cursor", cursor), slog.Any("error", err))
		return true
	}

	if len(rows) == 0 {
		r.Reset()
		metrics.RecordReaperSweep(r.cfg.Name, 0, 0, 0, 0)
		return true
	}

	now := r.now()
	expired := make([]int64, 0, len(rows))
	orphaned := make([]int64, 0, len(rows))
	failures := 0

	for _, row := range rows {
		if r.cfg.Expired != nil && r.cfg.Expired(row, now) {
			expired = append(expired, row.RecordID())
			continue
		}

		exists, err := r.owners.UserExists(ctx, row.OwnerID())
		if err != nil {
			failures++
			r.log.WarnContext(ctx, "reaper owner check failed",
				slog.Int64("id", row.RecordID()),
				slog.Int64("user_id", row.OwnerID()),
				slog.Any("error", err),
			)
			continue
		}
		if !exists {
			orphaned = append(orphaned, row.RecordID())
		}
	}

	if r.cfg.DeleteExpired == nil {
		orphaned = append(expired, orphaned...)
		expired = nil
	}

	var deleted int64
	if len(expired) > 0 {
		deleted += r.delete(ctx, "expired", expired, func(ctx context.Context, ids []int64) (int64, error) {
			return r.cfg.DeleteExpired(ctx, ids, now)
		})
	}
	if len(orphaned) > 0 {
		deleted += r.delete(ctx, "orphaned", orphaned, r.source.DeleteByIDs)
	}

	next := rows[len(rows)-1].RecordID()
	r.setCursor(next)
	metrics.RecordReaperSweep(r.cfg.Name, len(rows), int(deleted), failures, next)

	return true
}

func (r *Reaper[T]) delete(ctx context.Context, reason string, ids []int64, del func(context.Context, []int64) (int64, error)) int64 {
	deleted, err := del(ctx, ids)
	if err != nil {
		r.log.ErrorContext(ctx, "reaper delete failed",
			slog.String("reason", reason),
			slog.Int("rows", len(ids)),
			slog.Any("error", err),
		)
		return 0
	}

	r.log.InfoContext(ctx, "reaper deleted rows", slog.String("reason", reason), slog.Int64("deleted", deleted))
	return deleted
}
