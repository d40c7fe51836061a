package config

import "strings"

// splitList splits a comma-separated value and drops empty items
func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// cutPair splits "id:name" into its trimmed halves
func cutPair(pair string) (string, string, bool) {
	id, name, found := strings.Cut(pair, ":")
	return strings.TrimSpace(id), strings.TrimSpace(name), found
}
