package costquery

import (
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
)

const (
	// MaxQuerySpan is the longest window the query API accepts
	MaxQuerySpan = 365 * 24 * time.Hour
	// YearlyChunk is the span YearlyRanges cuts long windows into
	YearlyChunk = 364 * 24 * time.Hour
)

// Range is a closed time window
type Range struct {
	Start time.Time
	End   time.Time
}

// ValidateRange rejects reversed windows and windows longer than 365 days
func ValidateRange(start, end time.Time) error {
	if end.Before(start) {
		return &ingesterr.InvalidRangeError{Start: start, End: end, Reason: "end is before start"}
	}
	if end.Sub(start) > MaxQuerySpan {
		return &ingesterr.InvalidRangeError{Start: start, End: end, Reason: "window exceeds 365 days"}
	}
	return nil
}

// YearlyRanges splits [start, end] into consecutive windows of at most 364
// days. Each window starts where the previous one ended. A reversed window
// yields nothing.
func YearlyRanges(start, end time.Time) []Range {
	if end.Before(start) {
		return nil
	}
	var out []Range
	for cur := start; ; {
		next := cur.Add(YearlyChunk)
		if !next.Before(end) {
			return append(out, Range{Start: cur, End: end})
		}
		out = append(out, Range{Start: cur, End: next})
		cur = next
	}
}
