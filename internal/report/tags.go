package report

import "strings"

// scanTags reads the `"key": "value"` pairs of an export's tags column. The
// column is JSON-like but unbraced, and values may hold commas, so pairs are
// scanned rather than parsed.
func scanTags(s string) map[string]string {
	tags := make(map[string]string)
	for {
		key, rest, ok := nextQuoted(s)
		if !ok {
			return tags
		}
		rest = strings.TrimLeft(rest, " \t")
		if !strings.HasPrefix(rest, ":") {
			s = rest
			continue
		}
		value, after, ok := nextQuoted(strings.TrimPrefix(rest, ":"))
		if !ok {
			return tags
		}
		if _, seen := tags[key]; !seen {
			tags[key] = value
		}
		s = after
	}
}

// nextQuoted returns the next double-quoted string in s and what follows it
func nextQuoted(s string) (string, string, bool) {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return "", "", false
	}
	s = s[start+1:]
	end := strings.IndexByte(s, '"')
	if end < 0 {
		return "", "", false
	}
	return s[:end], s[end+1:], true
}
