// Package validate provides the identifier, period and growth checks used by
// the sanitizer, the aggregator and the query API.
package validate

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// TAX ID (14 digits, two check digits)
// =============================================================================

// TaxIDLength is the number of digits in a cleaned tax id.
const TaxIDLength = 14

var (
	firstCheckWeights  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	secondCheckWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// CleanTaxID strips every non-digit and left-pads with zeros to 14 digits.
// Inputs with more than 14 digits are returned unpadded and fail ValidTaxID.
func CleanTaxID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < TaxIDLength {
		digits = strings.Repeat("0", TaxIDLength-len(digits)) + digits
	}
	return digits
}

// ValidTaxID cleans raw and verifies length, non-degeneracy and both check digits.
func ValidTaxID(raw string) bool {
	digits := CleanTaxID(raw)
	if len(digits) != TaxIDLength {
		return false
	}
	if strings.Count(digits, digits[:1]) == TaxIDLength {
		return false // 00000000000000, 11111111111111, ...
	}

	first := checkDigit(digits[:12], firstCheckWeights)
	second := checkDigit(digits[:12]+strconv.Itoa(first), secondCheckWeights)

	return int(digits[12]-'0') == first && int(digits[13]-'0') == second
}

// checkDigit computes the mod-11 digit over len(weights) leading digits.
func checkDigit(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

// =============================================================================
// PERIOD TOKENS
// =============================================================================

var (
	quarterPattern     = regexp.MustCompile(`^\dT$`)
	yearPattern        = regexp.MustCompile(`^\d{4}$`)
	quarterNamePattern = regexp.MustCompile(`\dT`)
	yearNamePattern    = regexp.MustCompile(`20\d{2}`)
)

// ValidQuarter reports whether s is a single digit followed by 'T' (e.g., "3T").
func ValidQuarter(s string) bool {
	return quarterPattern.MatchString(s)
}

// ValidYear reports whether s is exactly four digits.
func ValidYear(s string) bool {
	return yearPattern.MatchString(s)
}

// PeriodFromName extracts the quarter and year tokens embedded in an archive
// name such as "1T2024.zip". Missing tokens come back as notAvailable.
func PeriodFromName(name, notAvailable string) (quarter, year string) {
	quarter, year = notAvailable, notAvailable
	if q := quarterNamePattern.FindString(name); q != "" {
		quarter = q
	}
	if y := yearNamePattern.FindString(name); y != "" {
		year = y
	}
	return quarter, year
}

// PeriodOrdinal maps a (quarter, year) pair to a sortable integer.
// ok is false when either token is not a valid period token.
func PeriodOrdinal(quarter, year string) (ordinal int, ok bool) {
	if !ValidQuarter(quarter) || !ValidYear(year) {
		return 0, false
	}
	y, _ := strconv.Atoi(year)
	return y*10 + int(quarter[0]-'0'), true
}

// =============================================================================
// GROWTH
// =============================================================================

// PercentChange returns (last - first) / first * 100, or 0 when first is 0.
func PercentChange(first, last float64) float64 {
	if first == 0 {
		return 0
	}
	return (last - first) / first * 100
}

// IsFinite reports whether every value is a usable number (no NaN or Inf).
func IsFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// =============================================================================
// DATES
// =============================================================================

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"02-01-2006",
	"2006/01/02",
}

// ParseDate tries the date layouts seen in regulator files.
// ok is false for blank or unrecognised input.
func ParseDate(raw string) (t time.Time, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
