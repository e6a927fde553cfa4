package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store using in-process state. Counters expire
// lazily on access and via a periodic sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	stopCh  chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		stopCh:  make(chan struct{}),
	}

	go s.sweepLoop()

	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.expired(entry) {
		delete(s.entries, key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return entry.value, nil
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.expired(entry) {
		entry = &memoryEntry{}
		if expiration > 0 {
			entry.expiresAt = time.Now().Add(expiration)
		}
		s.entries[key] = entry
	}

	entry.value += delta
	return entry.value, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.stopCh)
	})
	return nil
}

func (s *MemoryStore) expired(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, key)
		}
	}
}
