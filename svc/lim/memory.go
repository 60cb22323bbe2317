package lim

import (
	"context"
	"sync"
	"time"
)

const memorySweepThreshold = 10000

// MemoryCounter is an in-process CounterStore for development and tests.
// Counts are lost on restart and not shared between instances.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
	now     func() time.Time
}
type counterEntry struct {
	count   int
	expires time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return NewMemoryCounterWithClock(time.Now)
}
func NewMemoryCounterWithClock(now func() time.Time) *MemoryCounter {
	return &MemoryCounter{entries: make(map[string]*counterEntry), now: now}
}
func (m *MemoryCounter) FixedWindow(ctx context.Context, key string, ceiling int, window time.Duration) (int, bool, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, 0, err
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= memorySweepThreshold {
		m.sweepLocked(now)
	}
	e, ok := m.entries[key]
	if !ok || !now.Before(e.expires) {
		m.entries[key] = &counterEntry{count: 1, expires: now.Add(window)}
		return 1, true, window, nil
	}
	ttl := e.expires.Sub(now)
	if e.count >= ceiling {
		return e.count, false, ttl, nil
	}
	e.count++
	return e.count, true, ttl, nil
}
func (m *MemoryCounter) sweepLocked(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}
