// Package clock abstracts time for the rate limiter and the cache. The
// schedule logic needs wall-clock time to pick its quota window while every
// duration computation runs on the monotonic reading; tests drive both
// through the Manual implementation.
package clock

import (
	"context"
	"time"
)

type Clock interface {
	// Now returns a monotonic-clock-carrying instant for duration math.
	Now() time.Time
	// WallNow returns the wall-clock instant used for schedule boundaries.
	WallNow() time.Time
	// Sleep blocks for d or until ctx is cancelled, returning ctx.Err()
	// in the cancelled case.
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the production clock.
type System struct{}

func (System) Now() time.Time     { return time.Now() }
func (System) WallNow() time.Time { return time.Now() }

func (System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
