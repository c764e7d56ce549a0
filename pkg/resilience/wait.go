package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// Polling defaults, matching the waiter's most common usage.
const (
	DefaultWaitTimeout  = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Condition reports whether the awaited state holds. An error aborts the
// wait immediately; it is never swallowed or retried.
type Condition func(ctx context.Context) (bool, error)

// WaitSpec describes one wait. The zero Timeout is meaningful: the condition
// is evaluated exactly once and, if false, the wait times out straight away.
type WaitSpec struct {
	// What names the awaited condition for logs and the timeout error.
	What string
	// Timeout bounds the whole wait on the wall clock.
	Timeout time.Duration
	// PollInterval is the pause between evaluations. Zero or negative
	// selects DefaultPollInterval.
	PollInterval time.Duration
}

// DefaultWaitSpec returns a spec with the package defaults.
func DefaultWaitSpec(what string) WaitSpec {
	return WaitSpec{What: what, Timeout: DefaultWaitTimeout, PollInterval: DefaultPollInterval}
}

// Waiter polls conditions until they hold or a deadline passes.
type Waiter struct {
	logger *zap.Logger
	clock  Clock
}

// NewWaiter builds a Waiter. A nil logger disables logging.
func NewWaiter(logger *zap.Logger) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{logger: logger.Named("wait"), clock: systemClock{}}
}

// Until evaluates cond until it returns true or the spec's timeout passes.
// The condition is always evaluated at least once, even with a zero timeout.
// On timeout the returned error records the configured budget, the wall
// clock time actually spent and the number of evaluations.
func (w *Waiter) Until(ctx context.Context, spec WaitSpec, cond Condition) error {
	interval := spec.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	start := w.clock.Now()
	deadline := start.Add(spec.Timeout)
	polls := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		polls++
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			if polls > 1 {
				w.logger.Debug("condition met",
					zap.String("what", spec.What),
					zap.Int("polls", polls),
					zap.Duration("elapsed", w.clock.Now().Sub(start)))
			}
			return nil
		}

		now := w.clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return &schemas.TimeoutError{
				What:    spec.What,
				Timeout: spec.Timeout,
				Elapsed: now.Sub(start),
				Polls:   polls,
			}
		}

		// Never sleep past the deadline.
		sleep := interval
		if sleep > remaining {
			sleep = remaining
		}
		if err := w.clock.Sleep(ctx, sleep); err != nil {
			return err
		}
	}
}

// UntilChanged polls get until it returns a value different from initial and
// returns that value. The timeout semantics are those of Until.
func (w *Waiter) UntilChanged(ctx context.Context, spec WaitSpec, get func(ctx context.Context) (string, error), initial string) (string, error) {
	if spec.What == "" {
		spec.What = "value change"
	}
	var latest string
	err := w.Until(ctx, spec, func(ctx context.Context) (bool, error) {
		v, getErr := get(ctx)
		if getErr != nil {
			return false, getErr
		}
		latest = v
		return v != initial, nil
	})
	if err != nil {
		return "", err
	}
	return latest, nil
}

// Until is a convenience for one-off waits without constructing a Waiter.
func Until(ctx context.Context, spec WaitSpec, cond Condition) error {
	return (&Waiter{logger: zap.NewNop(), clock: systemClock{}}).Until(ctx, spec, cond)
}
