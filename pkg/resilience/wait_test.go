package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
)

func newTestWaiter() (*Waiter, *fakeClock) {
	w := NewWaiter(zap.NewNop())
	clock := newFakeClock()
	w.clock = clock
	return w, clock
}

func TestUntilImmediateSuccess(t *testing.T) {
	w, clock := newTestWaiter()

	polls := 0
	err := w.Until(context.Background(), DefaultWaitSpec("spinner gone"), func(ctx context.Context) (bool, error) {
		polls++
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, polls)
	assert.Empty(t, clock.recorded())
}

func TestUntilEventualSuccess(t *testing.T) {
	w, clock := newTestWaiter()
	spec := WaitSpec{What: "cart badge", Timeout: 5 * time.Second, PollInterval: 200 * time.Millisecond}

	polls := 0
	err := w.Until(context.Background(), spec, func(ctx context.Context) (bool, error) {
		polls++
		return polls == 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, polls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, clock.recorded())
}

func TestUntilTimeoutReportsElapsedAndPolls(t *testing.T) {
	w, _ := newTestWaiter()
	spec := WaitSpec{What: "results table", Timeout: time.Second, PollInterval: 100 * time.Millisecond}

	err := w.Until(context.Background(), spec, func(ctx context.Context) (bool, error) {
		return false, nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrTimeout)

	var te *schemas.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "results table", te.What)
	assert.Equal(t, time.Second, te.Timeout)
	assert.Equal(t, time.Second, te.Elapsed)
	// Evaluations at 0ms, 100ms, ..., 1000ms.
	assert.Equal(t, 11, te.Polls)
	assert.Contains(t, err.Error(), "results table")
}

func TestUntilZeroTimeoutEvaluatesOnce(t *testing.T) {
	w, clock := newTestWaiter()

	polls := 0
	err := w.Until(context.Background(), WaitSpec{What: "instant check"}, func(ctx context.Context) (bool, error) {
		polls++
		return false, nil
	})

	require.Error(t, err)
	var te *schemas.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, polls, "the condition must be evaluated at least once")
	assert.Equal(t, 1, te.Polls)
	assert.Empty(t, clock.recorded())
}

func TestUntilZeroTimeoutCanStillSucceed(t *testing.T) {
	w, _ := newTestWaiter()

	err := w.Until(context.Background(), WaitSpec{What: "already true"}, func(ctx context.Context) (bool, error) {
		return true, nil
	})

	assert.NoError(t, err)
}

func TestUntilPredicateErrorPropagates(t *testing.T) {
	w, clock := newTestWaiter()
	boom := errors.New("predicate crashed")

	polls := 0
	err := w.Until(context.Background(), DefaultWaitSpec("broken check"), func(ctx context.Context) (bool, error) {
		polls++
		return false, boom
	})

	assert.Same(t, boom, err, "predicate errors are not wrapped or retried")
	assert.Equal(t, 1, polls)
	assert.Empty(t, clock.recorded())
}

func TestUntilLastSleepTruncatedToDeadline(t *testing.T) {
	w, clock := newTestWaiter()
	spec := WaitSpec{What: "odd budget", Timeout: 250 * time.Millisecond, PollInterval: 100 * time.Millisecond}

	err := w.Until(context.Background(), spec, func(ctx context.Context) (bool, error) {
		return false, nil
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		100 * time.Millisecond,
		50 * time.Millisecond,
	}, clock.recorded(), "the final sleep must not run past the deadline")
}

func TestUntilContextCancelled(t *testing.T) {
	w, _ := newTestWaiter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	polls := 0
	err := w.Until(ctx, DefaultWaitSpec("anything"), func(ctx context.Context) (bool, error) {
		polls++
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, polls, "cancellation wins over the first evaluation")
}

func TestUntilChanged(t *testing.T) {
	t.Run("returns the new value", func(t *testing.T) {
		w, _ := newTestWaiter()
		spec := WaitSpec{Timeout: time.Second, PollInterval: 100 * time.Millisecond}

		polls := 0
		got, err := w.UntilChanged(context.Background(), spec, func(ctx context.Context) (string, error) {
			polls++
			if polls < 3 {
				return "loading", nil
			}
			return "$1,299.99", nil
		}, "loading")

		require.NoError(t, err)
		assert.Equal(t, "$1,299.99", got)
	})

	t.Run("times out when the value never changes", func(t *testing.T) {
		w, _ := newTestWaiter()
		spec := WaitSpec{Timeout: 300 * time.Millisecond, PollInterval: 100 * time.Millisecond}

		_, err := w.UntilChanged(context.Background(), spec, func(ctx context.Context) (string, error) {
			return "loading", nil
		}, "loading")

		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrTimeout)
		assert.Contains(t, err.Error(), "value change")
	})

	t.Run("getter errors propagate", func(t *testing.T) {
		w, _ := newTestWaiter()
		boom := errors.New("stale handle")

		_, err := w.UntilChanged(context.Background(), DefaultWaitSpec(""), func(ctx context.Context) (string, error) {
			return "", boom
		}, "x")

		assert.ErrorIs(t, err, boom)
	})
}

func TestPackageLevelUntil(t *testing.T) {
	err := Until(context.Background(), WaitSpec{What: "one shot", PollInterval: time.Millisecond}, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	assert.NoError(t, err)
}
