package driver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// InteractionResult reports what became of an optional interaction. Matched
// names the descriptor that resolved when one did; Reason carries the failure
// when Outcome is OutcomeFailed.
type InteractionResult struct {
	Outcome schemas.InteractionOutcome
	Matched schemas.Descriptor
	Reason  error
}

// Performed reports whether the interaction ran against a real element.
func (r InteractionResult) Performed() bool {
	return r.Outcome == schemas.OutcomePerformed
}

// OptionalHandler deals with elements that may legitimately not exist, cookie
// banners and promo dialogs being the canonical cases. It swallows exactly one
// failure mode, absence, and reports everything else: an element that is
// present but refuses the interaction is a real fault, not a skip.
type OptionalHandler struct {
	resolver *Resolver
	logger   *zap.Logger
}

// NewOptionalHandler builds an OptionalHandler. A nil resolver gets a
// default-spec one, a nil logger a no-op one.
func NewOptionalHandler(resolver *Resolver, logger *zap.Logger) *OptionalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = NewResolver(ResolveSpec{}, logger)
	}
	return &OptionalHandler{resolver: resolver, logger: logger.Named("optional")}
}

// TryClick clicks the first candidate that resolves, if any.
func (h *OptionalHandler) TryClick(ctx context.Context, page Page, candidates []schemas.Descriptor) InteractionResult {
	return h.try(ctx, page, candidates, "click", Element.Click)
}

// TryDismiss dismisses the first candidate that resolves, if any.
func (h *OptionalHandler) TryDismiss(ctx context.Context, page Page, candidates []schemas.Descriptor) InteractionResult {
	return h.try(ctx, page, candidates, "dismiss", Element.Dismiss)
}

// TryFill fills the first candidate that resolves with value, if any.
func (h *OptionalHandler) TryFill(ctx context.Context, page Page, candidates []schemas.Descriptor, value string) InteractionResult {
	return h.try(ctx, page, candidates, "fill", func(el Element, ctx context.Context) error {
		return el.Fill(ctx, value)
	})
}

// try resolves and runs one interaction. do takes the element first so the
// method expressions Element.Click and Element.Dismiss slot in directly.
func (h *OptionalHandler) try(ctx context.Context, page Page, candidates []schemas.Descriptor, action string, do func(Element, context.Context) error) InteractionResult {
	el, d, err := h.resolver.Resolve(ctx, page, candidates)
	if err != nil {
		if errors.Is(err, schemas.ErrNotFound) {
			h.logger.Debug("optional element absent, skipping",
				zap.String("action", action), zap.Int("candidates", len(candidates)))
			return InteractionResult{Outcome: schemas.OutcomeSkippedAbsent}
		}
		return InteractionResult{Outcome: schemas.OutcomeFailed, Reason: err}
	}
	if err := do(el, ctx); err != nil {
		h.logger.Warn("optional interaction failed",
			zap.String("action", action), zap.Stringer("descriptor", d), zap.Error(err))
		return InteractionResult{Outcome: schemas.OutcomeFailed, Matched: d, Reason: err}
	}
	h.logger.Debug("optional interaction performed",
		zap.String("action", action), zap.Stringer("descriptor", d))
	return InteractionResult{Outcome: schemas.OutcomePerformed, Matched: d}
}
