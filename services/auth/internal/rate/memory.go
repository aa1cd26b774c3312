package rate

import (
	"context"
	"sync"
	"time"
)

// Memory keeps fixed-window counters in process. Counters are not shared, so
// it only suits a single auth instance in dev and test.
type Memory struct {
	policy Policy

	mu      sync.Mutex
	windows map[string]window
	sweepAt time.Time
}

type window struct {
	hits int64
	ends time.Time
}

func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, windows: make(map[string]window)}
}

func (m *Memory) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)

	w, ok := m.windows[key]
	if !ok || !now.Before(w.ends) {
		w = window{ends: now.Add(m.policy.Window)}
	}
	w.hits++
	m.windows[key] = w

	allowed, retryAfter := m.policy.decide(w.hits, w.ends.Sub(now))
	return allowed, retryAfter, nil
}

// sweep drops closed windows, at most once per policy window.
func (m *Memory) sweep(now time.Time) {
	if now.Before(m.sweepAt) {
		return
	}
	for key, w := range m.windows {
		if !now.Before(w.ends) {
			delete(m.windows, key)
		}
	}
	m.sweepAt = now.Add(m.policy.Window)
}
