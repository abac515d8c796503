package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process lockout tracker used with the memory store.
type Memory struct {
	mu     sync.Mutex
	state  map[string]lockState
	policy Policy
	now    func() time.Time
}

type lockState struct {
	fails       int
	lockedUntil time.Time
}

// NewMemory constructs an empty tracker.
func NewMemory(p Policy) *Memory {
	return &Memory{state: make(map[string]lockState), policy: p, now: time.Now}
}

func (m *Memory) Allow(_ context.Context, ownerID string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if st, ok := m.state[ownerID]; ok && st.lockedUntil.After(now) {
		return false, st.lockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) Failure(_ context.Context, ownerID string) (int, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	st := m.state[ownerID]
	if st.lockedUntil.After(now) {
		return 0, st.lockedUntil.Sub(now), nil
	}
	st.fails++
	if st.fails >= m.policy.Threshold {
		st = lockState{lockedUntil: now.Add(m.policy.Duration)}
		m.state[ownerID] = st
		return 0, m.policy.Duration, nil
	}
	m.state[ownerID] = st
	return m.policy.remaining(st.fails), 0, nil
}

func (m *Memory) Success(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, ownerID)
	return nil
}

// Sweep drops entries whose lock has lifted and returns how many went.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, st := range m.state {
		if st.fails == 0 && !st.lockedUntil.After(now) {
			delete(m.state, id)
			n++
		}
	}
	return n
}
