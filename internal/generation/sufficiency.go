package generation

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMinDetailedChars is the minimum length of a detailed answer.
	DefaultMinDetailedChars = 260

	maxConciseChars = 420
	minConciseChars = 12
)

// IsSufficient reports whether text is an acceptable final answer for intent.
// Length is measured in runes of the trimmed text. Precedence follows styleFor:
// detailed, then counting, brief and concise.
func IsSufficient(text string, intent Intent, minChars int) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	switch {
	case n == 0:
		return false
	case intent.Detailed:
		return n >= minDetailed(minChars)
	case intent.Counting:
		return true
	case intent.Brief:
		return n <= maxConciseChars
	case intent.Concise:
		return n >= minConciseChars && n <= maxConciseChars
	default:
		return n >= minDetailed(minChars)
	}
}

func minDetailed(minChars int) int {
	if minChars <= 0 {
		return DefaultMinDetailedChars
	}
	return minChars
}
