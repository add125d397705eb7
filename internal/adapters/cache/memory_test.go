package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"watchpost.core/internal/core/domain"
)

// testClock is a settable time source for time-travel tests.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func entry(key, result string, at time.Time, ttl time.Duration) domain.CacheEntry {
	return domain.CacheEntry{Key: key, Result: result, ComputedAt: at, TTL: ttl}
}

func TestMemoryGetFreshEntry(t *testing.T) {
	clock := newTestClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	m.Put(ctx, entry("k", "v", clock.Now(), time.Minute))

	got, ok := m.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit for fresh entry")
	}
	if got.Result != "v" {
		t.Errorf("Result = %q, want v", got.Result)
	}
	if _, ok := m.Get(ctx, "missing"); ok {
		t.Error("unexpected hit for absent key")
	}
}

func TestMemoryExpiryIsLazy(t *testing.T) {
	clock := newTestClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	m.Put(ctx, entry("k", "v", clock.Now(), time.Minute))
	clock.Advance(time.Minute) // exactly TTL: no longer fresh

	if m.Len(ctx) != 1 {
		t.Fatal("entry should still occupy memory before the expiring read")
	}
	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatal("expired entry must read as a miss")
	}
	if m.Len(ctx) != 0 {
		t.Error("expiring read should evict the entry")
	}
}

func TestMemoryLastWriterWins(t *testing.T) {
	clock := newTestClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	m.Put(ctx, entry("k", "old", clock.Now(), time.Minute))
	clock.Advance(30 * time.Second)
	m.Put(ctx, entry("k", "new", clock.Now(), time.Minute))
	clock.Advance(45 * time.Second)

	// Old entry would have expired by now; the rewrite reset the window.
	got, ok := m.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit after overwrite")
	}
	if got.Result != "new" {
		t.Errorf("Result = %q, want new", got.Result)
	}
}

func TestMemorySweepRemovesOnlyExpired(t *testing.T) {
	clock := newTestClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	m.Put(ctx, entry("short", "a", clock.Now(), time.Second))
	m.Put(ctx, entry("long", "b", clock.Now(), time.Hour))
	clock.Advance(time.Minute)

	if removed := m.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, ok := m.Get(ctx, "long"); !ok {
		t.Error("unexpired entry must survive the sweep")
	}
	if m.Len(ctx) != 1 {
		t.Errorf("Len = %d, want 1", m.Len(ctx))
	}
}

func TestMemoryInvalidate(t *testing.T) {
	clock := newTestClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	m.Put(ctx, entry("k", "v", clock.Now(), time.Hour))
	m.Invalidate(ctx, "k")
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("invalidated entry must not be served")
	}
	m.Invalidate(ctx, "k") // absent key is fine
}

func TestMemoryConcurrentAccess(t *testing.T) {
	clock := newTestClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Put(ctx, entry("k", "v", clock.Now(), time.Minute))
				m.Get(ctx, "k")
				m.Sweep()
			}
		}()
	}
	wg.Wait()
}
