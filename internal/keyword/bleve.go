package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/iris/internal/models"
)

const (
	fieldCaption = "caption"
	fieldContent = "content"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

var _ KeywordIndex = (*BleveIndex)(nil)

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize, no stemming, so object labels match exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldCaption, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldContent, textFieldMapping)
	im.AddDocumentMapping("extraction", docMapping)
	im.DefaultType = "extraction"
	im.DefaultMapping = docMapping
	return im
}

// NewMemIndex creates an in-memory index. The ledger is the source of truth; the
// index is rebuilt from it on startup.
func NewMemIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory to force a re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes an entry's caption and its objects, scene labels, OCR text and image name.
func (b *BleveIndex) Index(ctx context.Context, entry models.ExtractionEntry) error {
	content := strings.Join([]string{
		strings.Join(entry.Objects, " "),
		strings.Join(entry.SceneLabels, " "),
		entry.OCRText,
		strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(entry.ImageName),
	}, " ")
	doc := map[string]any{
		fieldCaption: entry.Caption,
		fieldContent: strings.TrimSpace(content),
	}
	if err := b.index.Index(entry.ID, doc); err != nil {
		return fmt.Errorf("index entry %s: %w", entry.ID, err)
	}
	return nil
}

// Search runs a match query and returns up to limit results.
// When opts.CaptionBoost > 1, caption and content are queried separately and merged
// additively, with multi-term queries penalized by the squared share of terms matched.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		limit = 10
	}
	captionBoost := 1.0
	fuzzy := false
	fuzziness := 1
	if opts != nil {
		if opts.CaptionBoost > 0 {
			captionBoost = opts.CaptionBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	if captionBoost <= 1.0 {
		hits, err := b.run(buildQuery(query, fuzzy, fuzziness, ""), limit)
		if err != nil {
			return nil, err
		}
		out := make([]*KeywordResult, 0, len(hits.order))
		for _, id := range hits.order {
			out = append(out, &KeywordResult{ID: id, Score: hits.scores[id]})
		}
		return out, nil
	}
	return b.searchWithBoost(query, limit, captionBoost, fuzzy, fuzziness)
}

func (b *BleveIndex) searchWithBoost(query string, limit int, captionBoost float64, fuzzy bool, fuzziness int) ([]*KeywordResult, error) {
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	captionHits, err := b.run(buildQuery(query, fuzzy, fuzziness, fieldCaption), reqSize)
	if err != nil {
		return nil, err
	}
	contentHits, err := b.run(buildQuery(query, fuzzy, fuzziness, fieldContent), reqSize)
	if err != nil {
		return nil, err
	}

	terms := tokenizeQuery(query)
	coverage := make(map[string]int)
	if len(terms) > 1 {
		for _, term := range terms {
			hits, err := b.run(buildQuery(term, fuzzy, fuzziness, ""), reqSize)
			if err != nil {
				continue
			}
			for _, id := range hits.order {
				coverage[id]++
			}
		}
	}

	scores := make(map[string]float64)
	for id, s := range captionHits.scores {
		scores[id] += s * captionBoost
	}
	for id, s := range contentHits.scores {
		scores[id] += s
	}
	if len(terms) > 1 {
		for id := range scores {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			share := float64(matched) / float64(len(terms))
			scores[id] *= share * share
		}
	}

	out := make([]*KeywordResult, 0, len(scores))
	for id, s := range scores {
		out = append(out, &KeywordResult{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type hitSet struct {
	order  []string
	scores map[string]float64
}

func (b *BleveIndex) run(q blevequery.Query, size int) (*hitSet, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hs := &hitSet{scores: make(map[string]float64, len(res.Hits))}
	for _, hit := range res.Hits {
		hs.order = append(hs.order, hit.ID)
		hs.scores[hit.ID] = hit.Score
	}
	return hs, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildQuery creates a match query, or a disjunction of fuzzy queries per term when
// fuzzy is set. An empty field searches all fields.
func buildQuery(query string, fuzzy bool, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(query)
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes an entry from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the total number of indexed entries.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
