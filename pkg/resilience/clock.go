package resilience

import (
	"context"
	"time"
)

// Clock abstracts wall clock reads and interruptible sleeps so retry and wait
// behaviour can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning the context error in
	// the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock returns the Clock backed by the runtime.
func SystemClock() Clock { return systemClock{} }

// systemClock is the default Clock backed by the runtime.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
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
