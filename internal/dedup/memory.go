package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process Store. Expired keys are swept on writes
// and by Sweep, so memory stays bounded by the arrival rate times the TTL.
type MemoryStore struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (s *MemoryStore) MarkIfNew(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.ttl {
		s.sweepLocked(now)
	}
	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[key] = now.Add(s.ttl)
	return true, nil
}

// Sweep drops expired keys and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// Len is the number of remembered keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for k, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, k)
			removed++
		}
	}
	s.lastSweep = now
	return removed
}
