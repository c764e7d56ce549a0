// pkg/driver/extract_test.go
package driver

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
)

func newTestExtractor(spec ResolveSpec) (*Extractor, *fakeClock) {
	r, clk := newTestResolver(spec)
	return NewExtractor(r, zap.NewNop()), clk
}

func TestExtractorTextFound(t *testing.T) {
	x, _ := newTestExtractor(ResolveSpec{})
	page := newFakePage()
	page.elements[".price"] = &fakeElement{text: "  $1,299.99  "}

	got, err := x.Text(context.Background(), page, []schemas.Descriptor{schemas.CSS(".price")}, "n/a", 0)
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, "$1,299.99", got.Value)
	assert.Equal(t, "  $1,299.99  ", got.Raw, "raw text keeps the page's whitespace")
}

func TestExtractorTextAbsentUsesDefault(t *testing.T) {
	x, _ := newTestExtractor(ResolveSpec{PerCandidate: 200 * time.Millisecond, Total: 200 * time.Millisecond, Probe: 100 * time.Millisecond})
	page := newFakePage()

	got, err := x.Text(context.Background(), page, []schemas.Descriptor{schemas.CSS(".price")}, "n/a", 0)
	require.NoError(t, err, "absence is an expected outcome, not an error")
	assert.False(t, got.Found)
	assert.Equal(t, "n/a", got.Value)
	assert.Empty(t, got.Raw)
}

func TestExtractorTextTimeoutOverride(t *testing.T) {
	x, clk := newTestExtractor(ResolveSpec{})
	page := newFakePage()

	got, err := x.Text(context.Background(), page, []schemas.Descriptor{schemas.CSS(".slow")}, "-", 300*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, got.Found)

	var total time.Duration
	for _, d := range clk.recorded() {
		total += d
	}
	assert.Equal(t, 300*time.Millisecond, total, "explicit timeout replaces the resolver's total budget")
}

func TestExtractorTextReadFailurePropagates(t *testing.T) {
	x, _ := newTestExtractor(ResolveSpec{})
	page := newFakePage()
	readErr := errors.New("node detached during read")
	page.elements[".price"] = &fakeElement{textErr: readErr}

	got, err := x.Text(context.Background(), page, []schemas.Descriptor{schemas.CSS(".price")}, "n/a", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, readErr)
	assert.False(t, got.Found)
	assert.Equal(t, "n/a", got.Value)
}

func TestExtractorAttribute(t *testing.T) {
	x, _ := newTestExtractor(ResolveSpec{})
	page := newFakePage()
	page.elements["img.hero"] = &fakeElement{attrs: map[string]string{"src": "/cdn/hero.webp"}}

	t.Run("present", func(t *testing.T) {
		got, err := x.Attribute(context.Background(), page, []schemas.Descriptor{schemas.CSS("img.hero")}, "src", "", 0)
		require.NoError(t, err)
		assert.True(t, got.Found)
		assert.Equal(t, "/cdn/hero.webp", got.Value)
	})

	t.Run("missing attribute uses default", func(t *testing.T) {
		got, err := x.Attribute(context.Background(), page, []schemas.Descriptor{schemas.CSS("img.hero")}, "srcset", "none", 0)
		require.NoError(t, err)
		assert.False(t, got.Found)
		assert.Equal(t, "none", got.Value)
	})
}

func TestExtractParsesTypedValue(t *testing.T) {
	x, _ := newTestExtractor(ResolveSpec{})
	page := newFakePage()
	page.elements[".qty"] = &fakeElement{text: "17"}

	got, err := Extract(context.Background(), x, page, []schemas.Descriptor{schemas.CSS(".qty")}, strconv.Atoi, -1, 0)
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, 17, got.Value)
	assert.Equal(t, "17", got.Raw)
}

func TestExtractParseFailurePropagates(t *testing.T) {
	x, _ := newTestExtractor(ResolveSpec{})
	page := newFakePage()
	page.elements[".qty"] = &fakeElement{text: "out of stock"}

	got, err := Extract(context.Background(), x, page, []schemas.Descriptor{schemas.CSS(".qty")}, strconv.Atoi, -1, 0)
	require.Error(t, err, "unparseable text means broken assumptions, not absence")
	assert.Contains(t, err.Error(), "parse extracted text")
	assert.False(t, got.Found)
	assert.Equal(t, -1, got.Value)
	assert.Equal(t, "out of stock", got.Raw)
}

func TestExtractAbsentSkipsParse(t *testing.T) {
	x, _ := newTestExtractor(ResolveSpec{PerCandidate: 100 * time.Millisecond, Total: 100 * time.Millisecond, Probe: 100 * time.Millisecond})
	page := newFakePage()

	parsed := false
	parse := func(s string) (int, error) {
		parsed = true
		return 0, nil
	}
	got, err := Extract(context.Background(), x, page, []schemas.Descriptor{schemas.CSS(".qty")}, parse, 42, 0)
	require.NoError(t, err)
	assert.False(t, parsed, "parser must not run on the default")
	assert.False(t, got.Found)
	assert.Equal(t, 42, got.Value)
}

func TestExtractorCancellationIsAnError(t *testing.T) {
	x, clk := newTestExtractor(ResolveSpec{})
	page := newFakePage()

	ctx, cancel := context.WithCancel(context.Background())
	clk.onSleep = cancel

	_, err := x.Text(ctx, page, []schemas.Descriptor{schemas.CSS(".never")}, "n/a", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
