package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// Operation is a unit of work that may fail transiently.
type Operation func(ctx context.Context) error

// ExhaustedError is returned when every attempt failed. It wraps the error
// from the final attempt, so errors.Is and errors.As reach the original
// failure, and adds how many attempts were made and how long they took.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s) in %s: %v",
		e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retrier re-invokes failing operations according to a RetryPolicy. It keeps
// no state across calls; a single Retrier can back any number of independent
// call chains.
type Retrier struct {
	policy    RetryPolicy
	retryable func(error) bool
	logger    *zap.Logger

	// Overridable in tests for deterministic timing and jitter.
	clock Clock
	rand  func() float64
}

// NewRetrier validates the policy and builds a Retrier. A nil retryable
// predicate selects the default transient classification
// (schemas.IsTransient); a nil logger disables logging.
func NewRetrier(policy RetryPolicy, retryable func(error) bool, logger *zap.Logger) (*Retrier, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if retryable == nil {
		retryable = schemas.IsTransient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		policy:    policy,
		retryable: retryable,
		logger:    logger.Named("retry"),
		clock:     systemClock{},
		rand:      rand.Float64,
	}, nil
}

// Do invokes op until it succeeds, fails non-retryably, exhausts the policy,
// or ctx is cancelled. The first attempt runs immediately. A non-retryable
// error is returned unchanged; exhaustion returns an ExhaustedError wrapping
// the last attempt's error.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	start := r.clock.Now()
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted before attempt %d: %w", attempt, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Debug("operation recovered",
					zap.Int("attempt", attempt),
					zap.Duration("elapsed", r.clock.Now().Sub(start)))
			}
			return nil
		}
		if !r.retryable(lastErr) {
			return lastErr
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.delayAfter(attempt)
		r.logger.Warn("operation failed, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		if err := r.clock.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted during backoff after attempt %d: %w", attempt, err)
		}
	}

	return &ExhaustedError{
		Attempts: r.policy.MaxAttempts,
		Elapsed:  r.clock.Now().Sub(start),
		Err:      lastErr,
	}
}

// Wrap lifts op into a self-retrying operation with the same signature, for
// call sites that compose operations rather than invoke the Retrier directly.
func (r *Retrier) Wrap(op Operation) Operation {
	return func(ctx context.Context) error {
		return r.Do(ctx, op)
	}
}

// delayAfter applies the policy backoff for the given failed attempt plus
// full jitter when enabled.
func (r *Retrier) delayAfter(attempt int) time.Duration {
	delay := r.policy.backoffFor(attempt)
	if r.policy.Jitter && delay > 0 {
		delay = time.Duration(r.rand() * float64(delay))
	}
	return delay
}

// Do invokes a value-returning operation under r's policy. On failure the
// zero value of T accompanies the error.
func Do[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
