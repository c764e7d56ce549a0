package resilience

import (
	"fmt"
	"math"
	"time"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// RetryPolicy controls how many times an operation is attempted and how long
// to back off between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// BaseDelay seeds the exponential backoff sequence.
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	// BackoffMultiplier scales the delay after each failed attempt. Must be
	// at least 1.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	// MaxDelay caps every computed delay. The cap applies as written, so a
	// zero MaxDelay means no waiting between attempts.
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	// Jitter, when set, draws each delay uniformly from [0, delay] to keep
	// concurrent callers from retrying in lockstep.
	Jitter bool `mapstructure:"jitter" yaml:"jitter"`
}

// NewDefaultRetryPolicy returns the policy used when callers have no
// particular requirements: three attempts, 500ms base, doubling, 10s cap,
// jitter on.
func NewDefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Second,
		Jitter:            true,
	}
}

// Validate rejects policies that cannot be executed.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry policy needs at least one attempt, got %d", schemas.ErrInvalidArgument, p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("%w: negative base delay %s", schemas.ErrInvalidArgument, p.BaseDelay)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier must be >= 1, got %g", schemas.ErrInvalidArgument, p.BackoffMultiplier)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("%w: negative max delay %s", schemas.ErrInvalidArgument, p.MaxDelay)
	}
	return nil
}

// backoffFor computes the delay after the given failed attempt (1-based),
// before jitter: min(MaxDelay, BaseDelay * BackoffMultiplier^(attempt-1)).
func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(p.MaxDelay) || backoff < 0 {
		return p.MaxDelay
	}
	return time.Duration(backoff)
}
