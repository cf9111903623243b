package service

import (
	"sync"
	"time"

	"chatflow/internal/models"
)

// pendingState is the continuation a chat is waiting on. Each chat holds at
// most one; arming a new one replaces the old.
type pendingState interface {
	// owner is the user whose next message the continuation consumes.
	owner() int64
	kind() string
}

type awaitingCustomDate struct {
	UserID int64
	TaskID string
}

type awaitingLocation struct {
	UserID  int64
	Meeting models.MeetingDraft
}

type awaitingRecurringStep struct {
	UserID int64
	Step   recurringStep
	Draft  recurringDraft
}

func (s awaitingCustomDate) owner() int64    { return s.UserID }
func (s awaitingLocation) owner() int64      { return s.UserID }
func (s awaitingRecurringStep) owner() int64 { return s.UserID }

func (awaitingCustomDate) kind() string    { return "custom_date" }
func (awaitingLocation) kind() string      { return "location" }
func (awaitingRecurringStep) kind() string { return "recurring_step" }

type expiringItem[V any] struct {
	value   V
	expires time.Time
}

// expiring is a mutex-guarded map whose entries vanish ttl after they were
// stored. Expired entries are dropped lazily on read and swept on write.
type expiring[K comparable, V any] struct {
	mu        sync.Mutex
	items     map[K]expiringItem[V]
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func newExpiring[K comparable, V any](ttl time.Duration, now func() time.Time) *expiring[K, V] {
	if now == nil {
		now = time.Now
	}
	return &expiring[K, V]{
		items: make(map[K]expiringItem[V]),
		ttl:   ttl,
		now:   now,
	}
}

func (m *expiring[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.ttl {
		for k, it := range m.items {
			if !now.Before(it.expires) {
				delete(m.items, k)
			}
		}
		m.lastSweep = now
	}
	m.items[key] = expiringItem[V]{value: value, expires: now.Add(m.ttl)}
}

func (m *expiring[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(key)
}

// Take returns and removes the entry.
func (m *expiring[K, V]) Take(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.getLocked(key)
	delete(m.items, key)
	return v, ok
}

func (m *expiring[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

func (m *expiring[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *expiring[K, V]) getLocked(key K) (V, bool) {
	var zero V
	it, ok := m.items[key]
	if !ok {
		return zero, false
	}
	if !m.now().Before(it.expires) {
		delete(m.items, key)
		return zero, false
	}
	return it.value, true
}
