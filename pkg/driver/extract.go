package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// Extraction is the outcome of a tolerant read. Found reports whether a real
// value was read from the page; when it is false, Value carries the caller's
// default. Raw preserves the unparsed text for diagnostics.
type Extraction[T any] struct {
	Value T
	Found bool
	Raw   string
}

// Extractor reads values out of a page without letting a missing element sink
// the caller. Absence and resolution timeouts degrade to the supplied default;
// parse failures and engine faults do not, because they mean the page holds
// data we failed to understand rather than no data at all.
type Extractor struct {
	resolver *Resolver
	logger   *zap.Logger
}

// NewExtractor builds an Extractor on top of resolver. A nil resolver gets a
// default-spec one, a nil logger a no-op one.
func NewExtractor(resolver *Resolver, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = NewResolver(ResolveSpec{}, logger)
	}
	return &Extractor{resolver: resolver, logger: logger.Named("extract")}
}

// Text resolves the first visible candidate and returns its trimmed text.
// A timeout of zero falls back to the resolver's total budget. When no
// candidate resolves in time the default is returned with Found false and a
// nil error.
func (x *Extractor) Text(ctx context.Context, page Page, candidates []schemas.Descriptor, def string, timeout time.Duration) (Extraction[string], error) {
	el, d, err := x.resolve(ctx, page, candidates, timeout)
	if err != nil || el == nil {
		return Extraction[string]{Value: def}, err
	}
	raw, err := el.Text(ctx)
	if err != nil {
		return Extraction[string]{Value: def}, x.readFailure(d, "text", err)
	}
	return Extraction[string]{Value: strings.TrimSpace(raw), Found: true, Raw: raw}, nil
}

// Attribute resolves the first visible candidate and returns the named
// attribute. An element that resolves but lacks the attribute counts as not
// found and yields the default.
func (x *Extractor) Attribute(ctx context.Context, page Page, candidates []schemas.Descriptor, name, def string, timeout time.Duration) (Extraction[string], error) {
	el, d, err := x.resolve(ctx, page, candidates, timeout)
	if err != nil || el == nil {
		return Extraction[string]{Value: def}, err
	}
	raw, ok, err := el.Attribute(ctx, name)
	if err != nil {
		return Extraction[string]{Value: def}, x.readFailure(d, "attribute "+name, err)
	}
	if !ok {
		x.logger.Debug("attribute missing, using default",
			zap.Stringer("descriptor", d), zap.String("attribute", name))
		return Extraction[string]{Value: def}, nil
	}
	return Extraction[string]{Value: raw, Found: true, Raw: raw}, nil
}

// Extract resolves, reads the element text and runs parse over it. Absence
// degrades to def like Text does, but a parse failure is returned as an error
// with the raw text preserved in the extraction.
func Extract[T any](ctx context.Context, x *Extractor, page Page, candidates []schemas.Descriptor, parse func(string) (T, error), def T, timeout time.Duration) (Extraction[T], error) {
	text, err := x.Text(ctx, page, candidates, "", timeout)
	if err != nil || !text.Found {
		return Extraction[T]{Value: def, Raw: text.Raw}, err
	}
	value, err := parse(text.Value)
	if err != nil {
		return Extraction[T]{Value: def, Raw: text.Raw}, fmt.Errorf("parse extracted text %q: %w", text.Value, err)
	}
	return Extraction[T]{Value: value, Found: true, Raw: text.Raw}, nil
}

// resolve maps the benign resolution outcomes (nothing matched, budget ran
// out) to a nil element so callers fall back to their defaults, and keeps
// everything else as an error.
func (x *Extractor) resolve(ctx context.Context, page Page, candidates []schemas.Descriptor, timeout time.Duration) (Element, schemas.Descriptor, error) {
	el, d, err := x.resolver.resolveWithin(ctx, page, candidates, timeout)
	if err != nil {
		if errors.Is(err, schemas.ErrNotFound) || errors.Is(err, schemas.ErrTimeout) {
			x.logger.Debug("extraction target absent, using default", zap.Error(err))
			return nil, d, nil
		}
		return nil, d, err
	}
	return el, d, nil
}

func (x *Extractor) readFailure(d schemas.Descriptor, what string, err error) error {
	x.logger.Warn("element read failed",
		zap.Stringer("descriptor", d), zap.String("read", what), zap.Error(err))
	return fmt.Errorf("read %s from %s: %w", what, d, err)
}
