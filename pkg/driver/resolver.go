package driver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/pkg/resilience"
)

// Default resolution budgets. Total caps the whole candidate list, PerCandidate
// caps any single descriptor, Probe is the re-check interval while waiting for
// an element to appear.
const (
	DefaultPerCandidateBudget = 2 * time.Second
	DefaultTotalBudget        = 10 * time.Second
	DefaultProbeInterval      = 100 * time.Millisecond
)

// ResolveSpec bounds a resolution attempt. Zero fields take the package
// defaults.
type ResolveSpec struct {
	PerCandidate time.Duration `mapstructure:"per_candidate" yaml:"per_candidate"`
	Total        time.Duration `mapstructure:"total" yaml:"total"`
	Probe        time.Duration `mapstructure:"probe" yaml:"probe"`
}

func (s ResolveSpec) withDefaults() ResolveSpec {
	if s.PerCandidate <= 0 {
		s.PerCandidate = DefaultPerCandidateBudget
	}
	if s.Total <= 0 {
		s.Total = DefaultTotalBudget
	}
	if s.Probe <= 0 {
		s.Probe = DefaultProbeInterval
	}
	return s
}

// Resolver walks an ordered descriptor list and returns the first candidate
// that yields a visible element. Order is authoritative: a later candidate is
// only typed when every earlier one has timed out or faulted. It never scores
// or reorders.
type Resolver struct {
	spec   ResolveSpec
	logger *zap.Logger
	clock  resilience.Clock
}

// NewResolver builds a Resolver. A nil logger is replaced with a no-op one.
func NewResolver(spec ResolveSpec, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		spec:   spec.withDefaults(),
		logger: logger.Named("resolver"),
		clock:  resilience.SystemClock(),
	}
}

// Resolve tries each candidate in order and returns the first visible element
// together with the descriptor that produced it. When every candidate fails it
// returns a *schemas.NotFoundError recording what happened to each one. An
// empty candidate list is a programming error, not an absence.
func (r *Resolver) Resolve(ctx context.Context, page Page, candidates []schemas.Descriptor) (Element, schemas.Descriptor, error) {
	return r.resolveWithin(ctx, page, candidates, r.spec.Total)
}

// ResolveWithin is Resolve with a caller-supplied total budget, for call sites
// that carry a per-operation override. A non-positive total falls back to the
// spec's.
func (r *Resolver) ResolveWithin(ctx context.Context, page Page, candidates []schemas.Descriptor, total time.Duration) (Element, schemas.Descriptor, error) {
	return r.resolveWithin(ctx, page, candidates, total)
}

func (r *Resolver) resolveWithin(ctx context.Context, page Page, candidates []schemas.Descriptor, total time.Duration) (Element, schemas.Descriptor, error) {
	var none schemas.Descriptor
	if len(candidates) == 0 {
		return nil, none, fmt.Errorf("%w: at least one descriptor is required", schemas.ErrInvalidArgument)
	}
	for i, d := range candidates {
		if err := d.Validate(); err != nil {
			return nil, none, fmt.Errorf("candidate %d: %w", i+1, err)
		}
	}
	if total <= 0 {
		total = r.spec.Total
	}

	deadline := r.clock.Now().Add(total)
	attempts := make([]schemas.DescriptorAttempt, 0, len(candidates))
	for _, d := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, none, err
		}
		now := r.clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			attempts = append(attempts, schemas.DescriptorAttempt{
				Descriptor: d,
				Outcome:    "not attempted: total budget exhausted",
			})
			continue
		}
		budget := r.spec.PerCandidate
		if budget > remaining {
			budget = remaining
		}

		el, err := r.probe(ctx, page, d, budget)
		elapsed := r.clock.Now().Sub(now)
		if err != nil {
			if schemas.IsCancelled(err) {
				return nil, none, err
			}
			r.logger.Debug("candidate faulted",
				zap.Stringer("descriptor", d),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			attempts = append(attempts, schemas.DescriptorAttempt{
				Descriptor: d,
				Elapsed:    elapsed,
				Outcome:    "engine error: " + err.Error(),
			})
			continue
		}
		if el != nil {
			r.logger.Debug("descriptor resolved",
				zap.Stringer("descriptor", d),
				zap.Duration("elapsed", elapsed))
			return el, d, nil
		}
		attempts = append(attempts, schemas.DescriptorAttempt{
			Descriptor: d,
			Elapsed:    elapsed,
			Outcome:    "timed out",
		})
	}

	err := &schemas.NotFoundError{Attempts: attempts}
	r.logger.Debug("no candidate resolved", zap.Int("candidates", len(candidates)), zap.Error(err))
	return nil, none, err
}

// probe polls one descriptor until it yields a visible element or the budget
// runs out. Returning (nil, nil) means the budget expired; errors are engine
// faults or cancellation. The descriptor is always probed at least once.
func (r *Resolver) probe(ctx context.Context, page Page, d schemas.Descriptor, budget time.Duration) (Element, error) {
	deadline := r.clock.Now().Add(budget)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		el, err := page.Locate(ctx, d)
		if err != nil {
			return nil, err
		}
		if el != nil {
			visible, err := el.Visible(ctx)
			if err != nil {
				return nil, err
			}
			if visible {
				return el, nil
			}
		}
		remaining := deadline.Sub(r.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}
		sleep := r.spec.Probe
		if sleep > remaining {
			sleep = remaining
		}
		if err := r.clock.Sleep(ctx, sleep); err != nil {
			return nil, err
		}
	}
}
