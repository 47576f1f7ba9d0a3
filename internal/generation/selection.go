package generation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	clipMaxSentences = 2
	clipMaxChars     = 280
)

var reSentenceEnd = regexp.MustCompile(`[.!?]+["')\]]*(\s+|$)`)

// SelectCandidate picks the best of several insufficient answers. Concise intents
// prefer the shortest candidate of at least 12 runes, clipped to two sentences and
// 280 runes; all other intents take the longest candidate verbatim.
// It returns "" when no candidate has text.
func SelectCandidate(candidates []string, intent Intent) string {
	var texts []string
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			texts = append(texts, c)
		}
	}
	if len(texts) == 0 {
		return ""
	}

	if intent.Concise && !intent.Detailed {
		best, bestFallback := "", ""
		for _, t := range texts {
			n := utf8.RuneCountInString(t)
			if n >= minConciseChars && (best == "" || n < utf8.RuneCountInString(best)) {
				best = t
			}
			if bestFallback == "" || n < utf8.RuneCountInString(bestFallback) {
				bestFallback = t
			}
		}
		if best == "" {
			best = bestFallback
		}
		return ClipSentences(best, clipMaxSentences, clipMaxChars)
	}

	longest := texts[0]
	for _, t := range texts[1:] {
		if utf8.RuneCountInString(t) > utf8.RuneCountInString(longest) {
			longest = t
		}
	}
	return longest
}

// ClipSentences keeps at most maxSentences leading sentences of text and at most
// maxChars runes, cutting at a sentence boundary when one fits. When even the
// first sentence is too long it is cut at the last word boundary.
func ClipSentences(text string, maxSentences, maxChars int) string {
	text = strings.TrimSpace(text)
	sentences := splitSentences(text)
	var b strings.Builder
	for i, s := range sentences {
		if i >= maxSentences {
			break
		}
		next := s
		if b.Len() > 0 {
			next = " " + s
		}
		if utf8.RuneCountInString(b.String()+next) > maxChars {
			break
		}
		b.WriteString(next)
	}
	if b.Len() > 0 {
		return b.String()
	}
	return cutAtWord(text, maxChars)
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range reSentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func cutAtWord(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	cut := string(runes[:maxChars])
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-") + "..."
}
