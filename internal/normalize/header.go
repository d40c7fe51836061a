// Package normalize converts provider column headers to the store's snake_case field names.
package normalize

import (
	"strings"
	"unicode"
)

// Header converts a mixed-case provider column name to lowercase snake_case.
// A separator is inserted at every lower-to-upper transition and before the
// last capital of an acronym that is followed by a lowercase letter, so
// "BillingPeriodStartDate" becomes "billing_period_start_date" and
// "CostUSD" becomes "cost_usd". Spaces, dashes and dots are treated as
// separators and a leading byte order mark is dropped.
func Header(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
	runes := []rune(name)

	var b strings.Builder
	b.Grow(len(name) + 4)
	lastSep := true
	for i, r := range runes {
		if r == ' ' || r == '-' || r == '.' || r == '_' {
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
			continue
		}
		if i > 0 && unicode.IsUpper(r) && !lastSep {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
		lastSep = false
	}

	return strings.TrimSuffix(b.String(), "_")
}

// Headers normalizes a whole header row
func Headers(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = Header(name)
	}
	return out
}
