// Package cache provides the result cache backends: a process-local map for
// the default desktop deployment and a Redis-backed variant for setups that
// share lookup results between tools on the same machine.
package cache

import (
	"context"
	"sync"
	"time"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

// Memory is the in-memory result cache. Expired entries are treated as
// absent and evicted on the read that finds them; a background sweep bounds
// memory under low read traffic.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry

	now      ports.Clock
	stopOnce sync.Once
	stop     chan struct{}
}

type MemoryOption func(*Memory)

// WithClock overrides the time source, used by time-travel tests.
func WithClock(now ports.Clock) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]domain.CacheEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (domain.CacheEntry, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return domain.CacheEntry{}, false
	}
	if !entry.Fresh(m.now()) {
		// Lazy eviction on the same read.
		m.mu.Lock()
		if current, still := m.entries[key]; still && current.ComputedAt.Equal(entry.ComputedAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return domain.CacheEntry{}, false
	}
	return entry, true
}

// Put replaces any existing entry for the key, last-writer-wins.
func (m *Memory) Put(_ context.Context, entry domain.CacheEntry) {
	m.mu.Lock()
	m.entries[entry.Key] = entry
	m.mu.Unlock()
}

func (m *Memory) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory) Len(_ context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StartSweep runs the periodic eviction loop until Stop or ctx cancellation.
func (m *Memory) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Sweep drops every expired entry.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, entry := range m.entries {
		if !entry.Fresh(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
