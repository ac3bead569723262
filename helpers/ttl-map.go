package helpers

import (
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLMap is a concurrency-safe map whose entries expire after a fixed TTL.
// Expired entries are purged by a janitor goroutine instead of being
// retained forever.
type TTLMap[K comparable, V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[K]ttlEntry[V]

	done     chan struct{}
	stopOnce sync.Once
}

func NewTTLMap[K comparable, V any](ttl, cleanupInterval time.Duration) *TTLMap[K, V] {
	m := &TTLMap[K, V]{
		ttl:     ttl,
		entries: make(map[K]ttlEntry[V]),
		done:    make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	}

	return m
}

func (m *TTLMap[K, V]) Set(key K, value V) {
	m.mu.Lock()
	m.entries[key] = ttlEntry[V]{value: value, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *TTLMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// SetIfAbsent stores the value unless a live entry already exists. It
// reports whether the value was stored, which makes it usable as a dedup
// check-and-mark in one call.
func (m *TTLMap[K, V]) SetIfAbsent(key K, value V) bool {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok && now.Before(entry.expiresAt) {
		return false
	}
	m.entries[key] = ttlEntry[V]{value: value, expiresAt: now.Add(m.ttl)}
	return true
}

func (m *TTLMap[K, V]) Delete(key K) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *TTLMap[K, V]) Clear() {
	m.mu.Lock()
	m.entries = make(map[K]ttlEntry[V])
	m.mu.Unlock()
}

func (m *TTLMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the janitor goroutine.
func (m *TTLMap[K, V]) Close() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
}

func (m *TTLMap[K, V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, entry := range m.entries {
				if now.After(entry.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
