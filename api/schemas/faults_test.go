package schemas_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// -- Classification Tests --

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil is not transient", nil, false},
		{"explicitly transient errors are transient", schemas.Transientf("socket reset"), true},
		{"explicitly permanent errors are not", schemas.Permanentf("404 page gone"), false},
		{"a permanent wrapper wins over a wrapped timeout", schemas.Permanent(&schemas.TimeoutError{What: "spinner"}), false},
		{"lookup misses are transient", &schemas.NotFoundError{}, true},
		{"condition timeouts are transient", &schemas.TimeoutError{What: "cart badge"}, true},
		{"wrapped sentinel timeouts stay transient", fmt.Errorf("step: %w", schemas.ErrTimeout), true},
		{"context cancellation is not transient", context.Canceled, false},
		{"context deadlines are not transient", context.DeadlineExceeded, false},
		{"invalid arguments are not transient", fmt.Errorf("%w: bad selector", schemas.ErrInvalidArgument), false},
		{"plain unclassified errors are not transient", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, schemas.IsTransient(tt.err))
		})
	}
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, schemas.IsCancelled(context.Canceled))
	assert.True(t, schemas.IsCancelled(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.False(t, schemas.IsCancelled(errors.New("boom")))
	assert.False(t, schemas.IsCancelled(nil))
}

func TestTransientPermanentWrappers(t *testing.T) {
	t.Run("should wrap and unwrap the cause", func(t *testing.T) {
		cause := errors.New("socket reset")

		err := schemas.Transient(cause)
		require.Error(t, err)
		assert.EqualError(t, err, "transient: socket reset")
		assert.ErrorIs(t, err, cause)

		err = schemas.Permanent(cause)
		require.Error(t, err)
		assert.EqualError(t, err, "permanent: socket reset")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("should pass nil through untouched", func(t *testing.T) {
		assert.NoError(t, schemas.Transient(nil))
		assert.NoError(t, schemas.Permanent(nil))
	})
}

// -- Diagnostic Message Tests --

func TestNotFoundError(t *testing.T) {
	t.Run("should render a resolution trace", func(t *testing.T) {
		err := &schemas.NotFoundError{Attempts: []schemas.DescriptorAttempt{
			{
				Descriptor: schemas.Descriptor{Strategy: schemas.StrategyID, Value: "cmp-root", Label: "cookie banner"},
				Elapsed:    1500 * time.Millisecond,
				Outcome:    "timed out",
			},
			{
				Descriptor: schemas.CSS("#promo"),
				Outcome:    "not attempted: total budget exhausted",
			},
		}}

		msg := err.Error()
		assert.Contains(t, msg, "no visible element for any of 2 candidate(s)")
		assert.Contains(t, msg, "[1] cookie banner (timed out after 1.5s)")
		assert.Contains(t, msg, "[2] css=#promo (not attempted: total budget exhausted)")
	})

	t.Run("should match the not found sentinel", func(t *testing.T) {
		var err error = &schemas.NotFoundError{}
		assert.ErrorIs(t, err, schemas.ErrNotFound)
		assert.NotErrorIs(t, err, schemas.ErrTimeout)
	})
}

func TestTimeoutError(t *testing.T) {
	t.Run("should describe the condition and the budget", func(t *testing.T) {
		err := &schemas.TimeoutError{
			What:    `text "3 results"`,
			Timeout: 5 * time.Second,
			Elapsed: 5004 * time.Millisecond,
			Polls:   11,
		}
		assert.EqualError(t, err, `text "3 results" not met within 5s (waited 5.004s, 11 poll(s))`)
	})

	t.Run("should fall back to a generic condition name", func(t *testing.T) {
		err := &schemas.TimeoutError{Timeout: time.Second, Polls: 1}
		assert.Contains(t, err.Error(), "condition not met within 1s")
	})

	t.Run("should match the timeout sentinel", func(t *testing.T) {
		var err error = &schemas.TimeoutError{}
		assert.ErrorIs(t, err, schemas.ErrTimeout)
	})
}
