// Package utils holds small helpers shared by the iris binaries and services.
package utils

import "unicode/utf8"

// Preview returns at most n runes of s with no suffix.
func Preview(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Truncate shortens s to n runes and marks the cut with "...".
// Non-positive n leaves s unchanged.
func Truncate(s string, n int) string {
	if p := Preview(s, n); len(p) < len(s) {
		return p + "..."
	}
	return s
}
