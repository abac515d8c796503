// Package ratelimit implements the per-client fixed-window request limiter
// and its HTTP middleware.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is the state of one client's counter after a hit.
type Window struct {
	Count int
	Reset time.Time // when the current window rolls over
}

// Store counts hits per key in fixed windows. Hit must be atomic per key.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration) (Window, error)
}

// Memory is a process-local window store.
type Memory struct {
	mu      sync.Mutex
	windows map[string]memWindow
	now     func() time.Time
}

type memWindow struct {
	start time.Time
	count int
}

// NewMemory constructs an empty store.
func NewMemory() *Memory {
	return &Memory{windows: make(map[string]memWindow), now: time.Now}
}

// Hit starts a new window at count 1 when none is open, else increments.
func (m *Memory) Hit(_ context.Context, key string, window time.Duration) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = memWindow{start: now}
	}
	w.count++
	m.windows[key] = w
	return Window{Count: w.count, Reset: w.start.Add(window)}, nil
}

// Sweep drops windows that started more than two window lengths ago and
// returns how many were removed.
func (m *Memory) Sweep(window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, w := range m.windows {
		if now.Sub(w.start) > 2*window {
			delete(m.windows, k)
			n++
		}
	}
	return n
}

// Len reports how many windows are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Redis shares windows across replicas. Keys expire on their own, so no
// sweep is needed.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis constructs a Redis window store. Keys are namespaced by prefix.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "rl:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// Hit increments the key and arms its expiry on the first hit of a window.
func (s *Redis) Hit(ctx context.Context, key string, window time.Duration) (Window, error) {
	k := s.prefix + key
	count, err := s.rdb.Incr(ctx, k).Result()
	if err != nil {
		return Window{}, fmt.Errorf("rate window incr: %w", err)
	}
	if count == 1 {
		if err := s.rdb.PExpire(ctx, k, window).Err(); err != nil {
			return Window{}, fmt.Errorf("rate window expire: %w", err)
		}
	}
	ttl, err := s.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return Window{}, fmt.Errorf("rate window ttl: %w", err)
	}
	if ttl < 0 {
		// A previous expire was lost; re-arm so the key cannot live forever.
		if err := s.rdb.PExpire(ctx, k, window).Err(); err != nil {
			return Window{}, fmt.Errorf("rate window expire: %w", err)
		}
		ttl = window
	}
	return Window{Count: int(count), Reset: time.Now().Add(ttl)}, nil
}
