package guard

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
// Expiry is evaluated lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the time source, for expiry tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now

	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[key]
	if !ok {
		return false, nil
	}

	if s.now().After(expiry) {
		delete(s.entries, key)

		return false, nil
	}

	return true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = s.now().Add(ttl)

	return nil
}
