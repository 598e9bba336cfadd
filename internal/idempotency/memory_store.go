package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record    *Record
	expiresAt time.Time
}

// MemoryStore is a process-local Store for deployments without Redis. Expired entries are dropped lazily.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryEntry
	locks   map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryEntry),
		locks:   make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Lock(_ context.Context, key string, lockTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, ok := s.locks[key]; ok && until.After(now) {
		return false, nil
	}
	s.locks[key] = now.Add(lockTTL)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.After(s.now()) {
		delete(s.records, key)
		return nil, nil
	}

	copied := *entry.record
	return &copied, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, record *Record, ttl time.Duration) error {
	if record == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.records[key] = memoryEntry{record: &copied, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, key)
	return nil
}
