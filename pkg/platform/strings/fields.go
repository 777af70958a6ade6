// Package strings handles space-delimited OAuth parameter values such as scope.
package strings

import "strings"

// Fields splits a space-delimited list. Empty entries and repeats are dropped;
// first occurrences keep their order.
func Fields(s string) []string {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(parts))
	out := parts[:0]
	for _, p := range parts {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// HasField reports whether value appears as a whole entry of the list.
func HasField(list, value string) bool {
	for _, p := range strings.Fields(list) {
		if p == value {
			return true
		}
	}
	return false
}
