package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is an in-process sliding-window Limiter used when Redis is unavailable.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an in-memory limiter implementation.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check enforces a sliding-window limit for the provided key.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := m.now()
	windowStart := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	requests := keepRecent(m.buckets[key], windowStart)

	allowed := len(requests) < limit
	if allowed {
		requests = append(requests, now)
	}
	m.buckets[key] = requests

	remaining := limit - len(requests)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(window)
	if len(requests) > 0 {
		resetAt = requests[0].Add(window)
	}

	result := &Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !allowed {
		return result, ErrLimitExceeded
	}

	return result, nil
}

// Cleanup removes buckets that have been inactive for more than maxAge and returns how many were dropped.
func (m *MemoryLimiter) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, requests := range m.buckets {
		if len(requests) == 0 || requests[len(requests)-1].Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}

	return removed
}

func keepRecent(reqs []time.Time, windowStart time.Time) []time.Time {
	firstIdx := 0
	for firstIdx < len(reqs) && reqs[firstIdx].Before(windowStart) {
		firstIdx++
	}

	if firstIdx == 0 {
		return reqs
	}

	if firstIdx >= len(reqs) {
		return reqs[:0]
	}

	copy(reqs, reqs[firstIdx:])
	return reqs[:len(reqs)-firstIdx]
}
