package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// fakeClock advances instantly on Sleep and records every requested delay so
// tests can assert exact backoff sequences.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep, when set, runs before each sleep is recorded. Used to cancel
	// contexts mid-backoff.
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if c.onSleep != nil {
		c.onSleep()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func newTestRetrier(t *testing.T, policy RetryPolicy, retryable func(error) bool) (*Retrier, *fakeClock) {
	t.Helper()
	r, err := NewRetrier(policy, retryable, zap.NewNop())
	require.NoError(t, err)
	clock := newFakeClock()
	r.clock = clock
	return r, clock
}

func TestRetrierSucceedsFirstAttempt(t *testing.T) {
	r, clock := newTestRetrier(t, NewDefaultRetryPolicy(), nil)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.recorded(), "a clean first attempt must not sleep")
}

func TestRetrierBackoffSequenceWithoutJitter(t *testing.T) {
	// Two failures then success: delays must be exactly 100ms and 200ms and
	// the operation must run exactly three times.
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, BackoffMultiplier: 2.0, MaxDelay: time.Second}
	r, clock := newTestRetrier(t, policy, nil)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return schemas.Transientf("flaky render, call %d", calls)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.recorded())
}

func TestRetrierExhaustionReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, BackoffMultiplier: 2.0, MaxDelay: time.Second}
	r, clock := newTestRetrier(t, policy, nil)

	boom := schemas.Transient(errors.New("panel never rendered"))
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls, "exhaustion must invoke exactly MaxAttempts times")
	assert.Len(t, clock.recorded(), 3, "no sleep after the final attempt")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, 70*time.Millisecond, exhausted.Elapsed, "10+20+40ms of backoff on the fake clock")
	assert.ErrorIs(t, err, boom, "the last attempt's error must remain reachable")
}

func TestRetrierNonRetryableReturnsImmediately(t *testing.T) {
	r, clock := newTestRetrier(t, NewDefaultRetryPolicy(), nil)

	fatal := schemas.Permanent(errors.New("selector syntax rejected"))
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})

	assert.Same(t, fatal, err, "non-retryable errors pass through unchanged")
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.recorded())
}

func TestRetrierPredicateSpecialization(t *testing.T) {
	errRetryMe := errors.New("worth another try")
	errGiveUp := errors.New("hopeless")

	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{name: "matching error is retried to exhaustion", err: errRetryMe, wantCalls: 2},
		{name: "non-matching error propagates at once", err: errGiveUp, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffMultiplier: 1.0, MaxDelay: time.Millisecond}
			r, _ := newTestRetrier(t, policy, func(err error) bool { return errors.Is(err, errRetryMe) })

			calls := 0
			err := r.Do(context.Background(), func(ctx context.Context) error {
				calls++
				return tt.err
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetrierCancelledDuringBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, BackoffMultiplier: 2.0, MaxDelay: time.Second}
	r, clock := newTestRetrier(t, policy, nil)

	ctx, cancel := context.WithCancel(context.Background())
	clock.onSleep = cancel

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return schemas.Transientf("still loading")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation during backoff must stop further attempts")
}

func TestRetrierCancelledBeforeFirstAttempt(t *testing.T) {
	r, _ := newTestRetrier(t, NewDefaultRetryPolicy(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetrierJitterStaysWithinBounds(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond, BackoffMultiplier: 2.0, MaxDelay: time.Second, Jitter: true}

	for _, roll := range []float64{0, 0.25, 0.5, 0.999} {
		r, clock := newTestRetrier(t, policy, nil)
		r.rand = func() float64 { return roll }

		_ = r.Do(context.Background(), func(ctx context.Context) error {
			return schemas.Transientf("nope")
		})

		sleeps := clock.recorded()
		require.Len(t, sleeps, 1)
		assert.GreaterOrEqual(t, sleeps[0], time.Duration(0))
		assert.LessOrEqual(t, sleeps[0], 100*time.Millisecond, "full jitter draws from [0, delay]")
		assert.Equal(t, time.Duration(roll*float64(100*time.Millisecond)), sleeps[0])
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 7, BaseDelay: 100 * time.Millisecond, BackoffMultiplier: 2.0, MaxDelay: time.Second}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	var prev time.Duration
	for i, expected := range want {
		got := policy.backoffFor(i + 1)
		assert.Equal(t, expected, got, "attempt %d", i+1)
		assert.GreaterOrEqual(t, got, prev, "backoff must never shrink")
		prev = got
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{name: "default policy is valid", policy: NewDefaultRetryPolicy(), wantErr: false},
		{name: "single attempt no delay is valid", policy: RetryPolicy{MaxAttempts: 1, BackoffMultiplier: 1}, wantErr: false},
		{name: "zero attempts rejected", policy: RetryPolicy{MaxAttempts: 0, BackoffMultiplier: 2}, wantErr: true},
		{name: "negative base delay rejected", policy: RetryPolicy{MaxAttempts: 2, BaseDelay: -time.Second, BackoffMultiplier: 2}, wantErr: true},
		{name: "multiplier below one rejected", policy: RetryPolicy{MaxAttempts: 2, BackoffMultiplier: 0.5}, wantErr: true},
		{name: "negative max delay rejected", policy: RetryPolicy{MaxAttempts: 2, BackoffMultiplier: 2, MaxDelay: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, schemas.ErrInvalidArgument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRetrierRejectsInvalidPolicy(t *testing.T) {
	_, err := NewRetrier(RetryPolicy{}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrInvalidArgument)
}

func TestWrapComposesLikeABareOperation(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffMultiplier: 1.0, MaxDelay: time.Millisecond}
	r, _ := newTestRetrier(t, policy, nil)

	calls := 0
	op := r.Wrap(func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return schemas.Transientf("first paint incomplete")
		}
		return nil
	})

	require.NoError(t, op(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestDoReturnsTypedValue(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffMultiplier: 1.0, MaxDelay: time.Millisecond}
	r, _ := newTestRetrier(t, policy, nil)

	calls := 0
	price, err := Do(context.Background(), r, func(ctx context.Context) (float64, error) {
		calls++
		if calls < 2 {
			return 0, schemas.Transientf("price widget empty")
		}
		return 1299.99, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1299.99, price)

	_, err = Do(context.Background(), r, func(ctx context.Context) (float64, error) {
		return 0, schemas.Permanentf("no price on this page")
	})
	require.Error(t, err)
}

func TestSystemClockSleepHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := systemClock{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)

	start := time.Now()
	require.NoError(t, systemClock{}.Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
