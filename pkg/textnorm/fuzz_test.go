package textnorm

import (
	"strings"
	"testing"
	"unicode/utf8"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
)

func FuzzExtractPrice(f *testing.F) {
	// Seed corpus
	f.Add("Price: $1,299.99 (was $1,499.00)", "$")
	f.Add("€ 1.299,99", "€")
	f.Add("no price here", "$")
	f.Add("999.99", "")

	f.Fuzz(func(t *testing.T, text string, symbol string) {
		if utf8.RuneCountInString(symbol) > 4 {
			return // currency symbols are short; cap the pattern cache
		}

		v, ok := ExtractPrice(text, symbol)
		if ok && v < 0 {
			t.Errorf("ExtractPrice(%q, %q) produced negative price %v", text, symbol, v)
		}

		raw, rawOK := ExtractPriceText(text, symbol)
		if ok && !rawOK {
			t.Errorf("numeric extraction succeeded but raw extraction failed for %q", text)
		}
		if rawOK && symbol != "" && !strings.HasPrefix(raw, symbol) {
			t.Errorf("raw price %q does not start with symbol %q", raw, symbol)
		}
	})
}

func FuzzSanitizeAndTruncate(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		fc := fuzz.NewConsumer(data)
		text, err := fc.GetString()
		if err != nil {
			return
		}
		maxLen, err := fc.GetInt()
		if err != nil {
			return
		}
		maxLen %= 512

		clean := SanitizeText(text)
		if strings.Contains(clean, "  ") {
			t.Errorf("SanitizeText left a double space in %q", clean)
		}
		if clean != SanitizeText(clean) {
			t.Errorf("SanitizeText is not idempotent for %q", text)
		}

		out := Truncate(text, maxLen)
		if got := utf8.RuneCountInString(out); got > max(maxLen, 0) {
			t.Errorf("Truncate(%q, %d) returned %d runes", text, maxLen, got)
		}
	})
}
