package clock

import (
	"context"
	"sync"
	"time"
)

// Manual is a test clock advanced explicitly. Sleepers wake when Advance
// moves the clock past their deadline; wall time and monotonic time move
// together unless SetWall skews them.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	wall    time.Time
	waiters []manualWaiter
}

type manualWaiter struct {
	deadline time.Time
	wake     chan struct{}
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, wall: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) WallNow() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wall
}

// SetWall moves only the wall clock, for schedule-boundary tests.
func (m *Manual) SetWall(wall time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wall = wall
}

// Advance moves both clocks forward and wakes every sleeper whose deadline
// has passed.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.wall = m.wall.Add(d)
	remaining := m.waiters[:0]
	var woken []manualWaiter
	for _, waiter := range m.waiters {
		if waiter.deadline.After(m.now) {
			remaining = append(remaining, waiter)
			continue
		}
		woken = append(woken, waiter)
	}
	m.waiters = remaining
	m.mu.Unlock()

	for _, waiter := range woken {
		close(waiter.wake)
	}
}

func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	m.mu.Lock()
	waiter := manualWaiter{deadline: m.now.Add(d), wake: make(chan struct{})}
	m.waiters = append(m.waiters, waiter)
	m.mu.Unlock()

	select {
	case <-waiter.wake:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, pending := range m.waiters {
			if pending.wake == waiter.wake {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		return ctx.Err()
	}
}

// Sleepers reports how many goroutines are currently parked in Sleep.
func (m *Manual) Sleepers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
