// Package textnorm provides pure text normalization and extraction helpers
// for values scraped from rendered pages: prices, counts, addresses and the
// usual whitespace mess. Every function is stateless and side effect free.
package textnorm

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const ellipsis = "..."

var (
	emailRe  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	urlRe    = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")
	numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// Strips everything that is not a digit or decimal point from a matched
	// price, e.g. "$1,299.99" -> "1299.99".
	priceCleanRe = regexp.MustCompile(`[^\d.]`)
	// currencyKeepRe keeps only the characters relevant for separator
	// disambiguation in CleanCurrency.
	currencyKeepRe = regexp.MustCompile(`[^\d.,]`)

	// Price patterns are built per currency symbol; cache the compiled form.
	priceRes sync.Map // symbol -> *regexp.Regexp

	currencyPrinter = message.NewPrinter(language.English)
)

func priceRe(symbol string) *regexp.Regexp {
	if cached, ok := priceRes.Load(symbol); ok {
		return cached.(*regexp.Regexp)
	}
	pattern := `[\d,]+(?:\.\d{2})?`
	if symbol != "" {
		pattern = regexp.QuoteMeta(symbol) + pattern
	}
	re := regexp.MustCompile(pattern)
	priceRes.Store(symbol, re)
	return re
}

// ExtractPriceText returns the first price token in text, including the
// currency symbol, e.g. "$1,299.99" from "now $1,299.99 (was $1,499.00)".
// An empty symbol matches bare numbers. The first match always wins, so
// strike-through "was" prices later in the text are ignored.
func ExtractPriceText(text, symbol string) (string, bool) {
	if text == "" {
		return "", false
	}
	m := priceRe(symbol).FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}

// ExtractPrice returns the first price in text as a number: commas and the
// symbol are stripped, so ExtractPrice("$1,234.56", "$") yields 1234.56.
func ExtractPrice(text, symbol string) (float64, bool) {
	m, ok := ExtractPriceText(text, symbol)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(priceCleanRe.ReplaceAllString(m, ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractNumber returns the first decimal number in text.
func ExtractNumber(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	m := numberRe.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractAllNumbers returns every decimal number in text, in order of
// appearance. The result is nil when text contains none.
func ExtractAllNumbers(text string) []float64 {
	var out []float64
	for _, m := range numberRe.FindAllString(text, -1) {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// SanitizeText collapses all whitespace runs, including tabs and newlines,
// into single spaces and trims the ends.
func SanitizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Truncate shortens text to at most maxLen characters. When truncation
// happens the result ends in "..." (counted against maxLen) and the cut
// prefers the last word boundary; text that already fits is returned
// verbatim with no suffix.
func Truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}

	available := maxLen - len(ellipsis)
	if available <= 0 {
		return ellipsis[:max(maxLen, 0)]
	}

	truncated := string(runes[:available])
	if idx := strings.LastIndex(truncated, " "); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + ellipsis
}

// RemoveSpecialChars strips everything but letters and digits. keepSpaces
// preserves whitespace; keepChars lists additional characters to preserve,
// e.g. "@." for email addresses.
func RemoveSpecialChars(text string, keepSpaces bool, keepChars string) string {
	pattern := "[^a-zA-Z0-9"
	if keepSpaces {
		pattern += `\s`
	}
	if keepChars != "" {
		pattern += regexp.QuoteMeta(keepChars)
	}
	pattern += "]"
	re, err := regexp.Compile(pattern)
	if err != nil {
		return text
	}
	return re.ReplaceAllString(text, "")
}

// ExtractEmail returns the first email address in text.
func ExtractEmail(text string) (string, bool) {
	m := emailRe.FindString(text)
	return m, m != ""
}

// ExtractURL returns the first http or https URL in text.
func ExtractURL(text string) (string, bool) {
	m := urlRe.FindString(text)
	return m, m != ""
}

// CleanCurrency parses a currency string into a number, handling both the
// US form "1,299.99" and the European form "1.299,99". With both separators
// present the rightmost one is the decimal point. A value with only a comma
// is treated as decimal when exactly two digits follow it, otherwise the
// comma is a thousands separator.
func CleanCurrency(value string) (float64, bool) {
	cleaned := currencyKeepRe.ReplaceAllString(value, "")
	if cleaned == "" {
		return 0, false
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma:
		if parts := strings.Split(cleaned, ","); len(parts[len(parts)-1]) == 2 {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatCurrency renders an amount with the given symbol, grouping
// separators and two decimals: FormatCurrency(1299.99, "$") == "$1,299.99".
func FormatCurrency(amount float64, symbol string) string {
	return symbol + currencyPrinter.Sprintf("%.2f", amount)
}
