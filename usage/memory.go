package usage

import (
	"context"
	"sync"
)

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	counts    map[string]int
	lastReset string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int)}
}

func (s *MemoryStore) Increment(_ context.Context, user string, limit int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.counts[user]
	if count >= limit {
		return false, count, nil
	}
	count++
	s.counts[user] = count
	return true, count, nil
}

func (s *MemoryStore) Count(_ context.Context, user string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[user], nil
}

func (s *MemoryStore) Reset(_ context.Context, day string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastReset != "" && s.lastReset >= day {
		return false, nil
	}
	clear(s.counts)
	s.lastReset = day
	return true, nil
}
