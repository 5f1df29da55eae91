package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process LRU cache with an optional TTL.
type Memory[V any] struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, Entry[V]]
	ttl time.Duration
	now func() time.Time
}

// NewMemory creates a Memory cache. maxEntries <= 0 means unbounded and
// ttl <= 0 means entries never expire.
func NewMemory[V any](maxEntries int, ttl time.Duration) *Memory[V] {
	return &Memory[V]{
		lru: expirable.NewLRU[string, Entry[V]](max(maxEntries, 0), nil, max(ttl, 0)),
		ttl: ttl,
		now: time.Now,
	}
}

func (m *Memory[V]) Get(_ context.Context, key string) (Entry[V], bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lru.Get(key)
	if !ok {
		return Entry[V]{}, false, nil
	}
	if m.expired(entry) {
		m.lru.Remove(key)
		return Entry[V]{}, false, nil
	}
	return entry, true, nil
}

// Put stores value unless a live entry under key carries a newer fingerprint.
func (m *Memory[V]) Put(_ context.Context, key string, fp Fingerprint, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.lru.Peek(key); ok && fp.Older(cur.Fingerprint) && !m.expired(cur) {
		return nil
	}
	m.lru.Add(key, Entry[V]{Value: value, Fingerprint: fp, StoredAt: m.now()})
	return nil
}

func (m *Memory[V]) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Remove(key)
	return nil
}

func (m *Memory[V]) Purge(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.lru.Len()
	m.lru.Purge()
	return n, nil
}

// Len returns the number of entries, expired ones not yet reaped included.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// expired applies the TTL against m.now. The LRU's own timer reaps entries
// in the background.
func (m *Memory[V]) expired(e Entry[V]) bool {
	return m.ttl > 0 && m.now().Sub(e.StoredAt) > m.ttl
}
