// Package ratelimit implements the per-upstream token buckets. Every
// descriptor family shares one bucket, so all requests against the same API
// compete for the same per-minute budget. Buckets queue callers instead of
// rejecting them: Acquire blocks until a token is available or the caller's
// context is cancelled.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/brasildados/localidades-mcp/core/clock"
	"github.com/brasildados/localidades-mcp/core/errors"
)

const window = time.Minute

// BucketConfig declares one bucket. Capacity is the per-minute budget when
// no schedule rule applies.
type BucketConfig struct {
	ID       string   `yaml:"id" json:"id"`
	Capacity int      `yaml:"capacity" json:"capacity"`
	Schedule Schedule `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

type bucket struct {
	mu          sync.Mutex
	capacity    float64
	tokens      float64
	windowStart time.Time
	lastRefill  time.Time
	lastGrant   time.Time
	fallback    int
	schedule    Schedule
}

// Limiter owns every bucket. All bucket state is private; the only reads
// available to other components are Acquire and Peek.
type Limiter struct {
	clock  clock.Clock
	logger logr.Logger

	mu      sync.RWMutex
	buckets map[string]*bucket
}

func NewLimiter(clk clock.Clock, logger logr.Logger, configs ...BucketConfig) *Limiter {
	limiter := &Limiter{
		clock:   clk,
		logger:  logger.WithName("ratelimit"),
		buckets: make(map[string]*bucket),
	}
	for _, config := range configs {
		limiter.Register(config)
	}
	return limiter
}

// Register adds or replaces a bucket. The bucket starts full at the
// capacity the schedule grants right now.
func (l *Limiter) Register(config BucketConfig) {
	capacity := config.Schedule.CapacityAt(l.clock.WallNow(), config.Capacity)
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[config.ID] = &bucket{
		capacity:    float64(capacity),
		tokens:      float64(capacity),
		windowStart: now,
		lastRefill:  now,
		fallback:    config.Capacity,
		schedule:    config.Schedule,
	}
}

func (l *Limiter) lookup(id string) (*bucket, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.buckets[id]
	return b, ok
}

// Acquire blocks until the bucket grants a token. Callers waiting on a full
// window are woken at the window boundary; a minimum spacing of
// window/capacity between grants smooths bursts. Returns a cancelled error
// when ctx expires while queued.
func (l *Limiter) Acquire(ctx context.Context, id string) error {
	b, ok := l.lookup(id)
	if !ok {
		return errors.New(errors.KindInternal, "unknown rate bucket %q", id)
	}
	for {
		wait, granted := l.tryAcquire(b)
		if granted {
			return nil
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return errors.Wrap(err, errors.KindCancelled, false)
		}
	}
}

// tryAcquire attempts one grant under the bucket lock and returns the
// suggested wait when denied. The lock is never held across a sleep.
func (l *Limiter) tryAcquire(b *bucket) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.clock.Now()
	l.applySchedule(b, now)
	l.refill(b, now)

	if b.capacity <= 0 {
		return window, false
	}

	spacing := time.Duration(float64(window) / b.capacity)
	if !b.lastGrant.IsZero() {
		if since := now.Sub(b.lastGrant); since < spacing {
			return spacing - since, false
		}
	}
	if b.tokens >= 1 {
		b.tokens--
		b.lastGrant = now
		return 0, true
	}
	wait := b.windowStart.Add(window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// applySchedule switches the bucket to the capacity the wall clock demands.
// On a transition the window restarts and tokens are clamped so the minute
// straddling the boundary never grants more than the lower capacity.
func (l *Limiter) applySchedule(b *bucket, now time.Time) {
	capacity := float64(b.schedule.CapacityAt(l.clock.WallNow(), b.fallback))
	if capacity == b.capacity {
		return
	}
	l.logger.V(1).Info("bucket capacity transition", "from", b.capacity, "to", capacity)
	b.windowStart = now
	b.lastRefill = now
	b.capacity = capacity
	if b.tokens > capacity {
		b.tokens = capacity
	}
}

func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	b.tokens += elapsed.Seconds() / window.Seconds() * b.capacity
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if now.Sub(b.windowStart) >= window {
		b.windowStart = now
	}
}

// Peek reports the whole tokens available and the time until the current
// window refills, without consuming anything.
func (l *Limiter) Peek(id string) (int, time.Duration, bool) {
	b, ok := l.lookup(id)
	if !ok {
		return 0, 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := l.clock.Now()
	l.applySchedule(b, now)
	l.refill(b, now)
	until := b.windowStart.Add(window).Sub(now)
	if until < 0 {
		until = 0
	}
	return int(b.tokens), until, true
}
