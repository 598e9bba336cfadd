package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/habitflow/notifier/internal/domain"
)

// MemorySettingsRepository keeps settings in process memory and enforces the same uniqueness rules as the database.
type MemorySettingsRepository struct {
	mu     sync.Mutex
	rows   map[int64]domain.Settings
	nextID int64
}

func NewMemorySettingsRepository() *MemorySettingsRepository {
	return &MemorySettingsRepository{rows: make(map[int64]domain.Settings)}
}

func (r *MemorySettingsRepository) GetEnabledByUser(_ context.Context, userID int64) (*domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.Enabled && row.UserID == userID {
			return clone(row), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemorySettingsRepository) Create(_ context.Context, settings *domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkUniqueLocked(settings, 0); err != nil {
		return err
	}

	r.nextID++
	settings.ID = r.nextID
	r.rows[settings.ID] = *clone(*settings)

	return nil
}

func (r *MemorySettingsRepository) Update(_ context.Context, settings *domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rows[settings.ID]
	if !ok {
		return ErrNotFound
	}
	if err := r.checkUniqueLocked(settings, settings.ID); err != nil {
		return err
	}

	updated := *clone(*settings)
	updated.CreatedAt = existing.CreatedAt
	r.rows[settings.ID] = updated

	return nil
}

func (r *MemorySettingsRepository) FindConfirmedByChat(_ context.Context, chat domain.ChatID) (*domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if linked, ok := row.Address.(domain.ChatID); ok && linked == chat && row.Status == domain.StatusConfirmed {
			return clone(row), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemorySettingsRepository) FindByEmail(_ context.Context, email domain.EmailAddress) (*domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *domain.Settings
	for _, row := range r.rows {
		if addr, ok := row.Address.(domain.EmailAddress); ok && addr == email && row.Enabled {
			if found == nil || row.ID < found.ID {
				found = clone(row)
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *MemorySettingsRepository) MarkFailed(_ context.Context, snapshot *domain.Settings, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[snapshot.ID]
	if !ok || row.Channel != snapshot.Channel || row.Status != snapshot.Status {
		return false, nil
	}
	if !sameAddress(row.Address, snapshot.Address) {
		return false, nil
	}

	row.Status = domain.StatusFailed
	row.UpdatedAt = now
	r.rows[snapshot.ID] = row

	return true, nil
}

func (r *MemorySettingsRepository) ClaimLinkToken(_ context.Context, token domain.LinkToken, chat domain.ChatID, now time.Time) (*domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, row := range r.rows {
		held, ok := row.Address.(domain.LinkToken)
		if !ok || held != token || !claimable(row.Status) {
			continue
		}
		if row.ExpiryAt == nil || !row.ExpiryAt.After(now) {
			continue
		}

		claimed := row
		claimed.Channel = domain.ChannelTelegram
		claimed.Address = chat
		claimed.Status = domain.StatusConfirmed
		claimed.ExpiryAt = nil
		claimed.UpdatedAt = now

		if err := r.checkUniqueLocked(&claimed, id); err != nil {
			return nil, err
		}

		r.rows[id] = claimed
		return clone(claimed), nil
	}

	return nil, ErrNotFound
}

func (r *MemorySettingsRepository) FetchAfter(_ context.Context, afterID int64, limit int) ([]*domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.rows))
	for id := range r.rows {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	batch := make([]*domain.Settings, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, clone(r.rows[id]))
	}
	return batch, nil
}

func (r *MemorySettingsRepository) DeleteByIDs(_ context.Context, ids []int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if _, ok := r.rows[id]; ok {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemorySettingsRepository) DeleteExpiredLinkTokens(_ context.Context, ids []int64, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		row, ok := r.rows[id]
		if !ok {
			continue
		}
		if _, isToken := row.Address.(domain.LinkToken); !isToken || row.ExpiryAt == nil || row.ExpiryAt.After(now) {
			continue
		}
		delete(r.rows, id)
		deleted++
	}
	return deleted, nil
}

func (r *MemorySettingsRepository) CountByChannelStatus(_ context.Context) (map[ChannelStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[ChannelStatus]int)
	for _, row := range r.rows {
		if row.Enabled {
			counts[ChannelStatus{Channel: row.Channel, Status: row.Status}]++
		}
	}
	return counts, nil
}

func (r *MemorySettingsRepository) checkUniqueLocked(candidate *domain.Settings, selfID int64) error {
	for id, row := range r.rows {
		if id == selfID {
			continue
		}
		if candidate.Enabled && row.Enabled && row.UserID == candidate.UserID {
			return ErrDuplicateSettings
		}
		if candidate.Address == nil || row.Address == nil || candidate.Address.Kind() != row.Address.Kind() {
			continue
		}
		if candidate.Address.String() != row.Address.String() {
			continue
		}
		switch candidate.Address.(type) {
		case domain.ChatID:
			return ErrChatAlreadyLinked
		case domain.LinkToken:
			return ErrAddressTaken
		}
	}
	return nil
}

func claimable(status domain.Status) bool {
	return status == domain.StatusPending || status == domain.StatusFailed
}

func sameAddress(a, b domain.Address) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && a.String() == b.String()
}

func clone(row domain.Settings) *domain.Settings {
	if row.ExpiryAt != nil {
		at := *row.ExpiryAt
		row.ExpiryAt = &at
	}
	return &row
}
