// Package generation turns a user query plus precomputed image features into a
// bounded, quality-gated answer from the generative gateway.
package generation

import (
	"regexp"
	"strings"
)

// Intent describes the shape of answer a query asks for. It is computed once per
// request and drives both the prompt style and the sufficiency check.
type Intent struct {
	Brief      bool `json:"brief"`
	Detailed   bool `json:"detailed"`
	Counting   bool `json:"counting"`
	Color      bool `json:"color"`
	SimpleFact bool `json:"simple_fact"`
	Concise    bool `json:"concise"`
}

var (
	reBrief      = regexp.MustCompile(`(?i)\b(brief(ly)?|short(ly)?|concise(ly)?|one[\s-]line|tl;?dr|summar(y|ise|ize))\b`)
	reDetailed   = regexp.MustCompile(`(?i)(\bin\s+detail\b|\bdetailed\b|\bdeep(ly|er)?\b|\belaborate\b|\banalysis\b|\breasoning\b|\bstep[\s-]by[\s-]step\b)`)
	reCounting   = regexp.MustCompile(`(?i)(\bhow\s+many\b|\bcount(s|ing)?\b|\bnumber\s+of\b)`)
	reColor      = regexp.MustCompile(`(?i)\bcolou?r(s|ed|ing)?\b`)
	reSimpleFact = regexp.MustCompile(`(?i)^(what|who|where|when|which|is\s+there|are\s+there|does|do\s+you\s+see|can\s+you\s+see)\b`)
)

// Classify derives the intent of a query. Detailed always wins over the concise flags.
func Classify(query string) Intent {
	q := strings.Join(strings.Fields(query), " ")
	in := Intent{
		Brief:      reBrief.MatchString(q),
		Detailed:   reDetailed.MatchString(q),
		Counting:   reCounting.MatchString(q),
		Color:      reColor.MatchString(q),
		SimpleFact: reSimpleFact.MatchString(q),
	}
	in.Concise = (in.Brief || in.Counting || in.Color || in.SimpleFact) && !in.Detailed
	return in
}

// Label is a single word summary used in logs and responses.
func (i Intent) Label() string {
	switch {
	case i.Detailed:
		return "detailed"
	case i.Brief:
		return "brief"
	case i.Counting:
		return "counting"
	case i.Concise:
		return "concise"
	default:
		return "default"
	}
}
