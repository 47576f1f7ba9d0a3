// Package keyword provides full-text search over extraction ledger entries.
package keyword

import (
	"context"

	"github.com/hyperjump/iris/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// CaptionBoost multiplies the score contribution from matches in the caption field.
	// Use 1.0 for no boost.
	CaptionBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 1.
	Fuzziness int
}

// KeywordIndex defines keyword search operations over extraction entries.
type KeywordIndex interface {
	Index(ctx context.Context, entry models.ExtractionEntry) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit; ID is the extraction id.
type KeywordResult struct {
	ID    string
	Score float64
}
