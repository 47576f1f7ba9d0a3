// Package indexer ingests images: it extracts features and records them in the vector
// index, the extraction ledger and the keyword index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hyperjump/iris/internal/extract"
	"github.com/hyperjump/iris/internal/fileid"
	"github.com/hyperjump/iris/internal/keyword"
	"github.com/hyperjump/iris/internal/ledger"
	"github.com/hyperjump/iris/internal/models"
	"github.com/hyperjump/iris/internal/vector"
	"go.uber.org/zap"
)

// Ingest sources recorded on ledger entries.
const (
	SourceUpload = "upload"
	SourceWatch  = "watch"
	SourceCLI    = "cli"
)

// Vector metadata keys.
const (
	MetaFilename     = "filename"
	MetaCaption      = "caption"
	MetaObjects      = "objects"
	MetaScene        = "scene"
	MetaExtractionID = "extraction_id"
)

// ErrNoEmbedding is returned by SearchSimilar when the extractor produced no embedding.
var ErrNoEmbedding = errors.New("feature service returned no embedding")

// Indexer wires the extractor to the vector index, ledger and keyword index.
type Indexer struct {
	extractor extract.Extractor
	vectors   vector.Index
	ledger    *ledger.Ledger
	keywords  keyword.KeywordIndex
	logger    *zap.Logger

	mu   sync.Mutex
	seen map[string]string // file version key -> extraction id
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer. keywords may be nil to disable full-text search.
func NewIndexer(
	extractor extract.Extractor,
	vectors vector.Index,
	l *ledger.Ledger,
	keywords keyword.KeywordIndex,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		extractor: extractor,
		vectors:   vectors,
		ledger:    l,
		keywords:  keywords,
		logger:    zap.NewNop(),
		seen:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Result is the outcome of one ingest.
type Result struct {
	Entry    models.ExtractionEntry
	Features models.FeatureRecord
	// Indexed reports whether the embedding was added to the vector index.
	Indexed bool
}

// Ingest extracts features for the image at path and records them. imageName is the
// display name (the upload's original filename); empty means the file's base name.
// An embedding of the wrong dimension fails the ingest before anything is recorded.
func (idx *Indexer) Ingest(ctx context.Context, path, imageName, source string) (*Result, error) {
	if imageName == "" {
		imageName = filepath.Base(path)
	}
	ex, err := idx.extractor.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}
	features := ex.Features
	features.OCRText = Preprocess(features.OCRText)

	hasEmbedding := len(features.Embedding) > 0
	if hasEmbedding && len(features.Embedding) != idx.vectors.Dimensions() {
		return nil, fmt.Errorf("embedding has %d dimensions, index has %d: %w",
			len(features.Embedding), idx.vectors.Dimensions(), vector.ErrDimensionMismatch)
	}

	entry := idx.ledger.Append(ledger.AppendInput{
		Features:    features,
		ImageName:   imageName,
		ImagePath:   path,
		Source:      source,
		ExtractedAt: ex.ExtractedAt,
	})

	res := &Result{Entry: entry, Features: features}
	if hasEmbedding {
		meta := vector.Metadata{
			MetaFilename:     imageName,
			MetaCaption:      entry.Caption,
			MetaObjects:      entry.Objects,
			MetaScene:        entry.SceneLabels,
			MetaExtractionID: entry.ID,
		}
		if err := idx.vectors.Insert(features.Embedding, meta); err != nil {
			return nil, fmt.Errorf("failed to index vector: %w", err)
		}
		res.Indexed = true
	} else {
		idx.logger.Warn("extraction has no embedding; skipped vector index", zap.String("image", imageName))
	}

	if idx.keywords != nil {
		if err := idx.keywords.Index(ctx, entry); err != nil {
			idx.logger.Warn("keyword index failed", zap.String("id", entry.ID), zap.Error(err))
		}
	}
	idx.logger.Debug("indexer image ingested",
		zap.String("image", imageName),
		zap.String("id", entry.ID),
		zap.String("source", entry.Source),
		zap.Bool("vector_indexed", res.Indexed))
	return res, nil
}

// IngestFile ingests a file from disk. If allowedExts is non-empty the extension must be
// in the list (case-insensitive). A file already ingested with the same path, mtime and
// size is skipped and (nil, nil) is returned.
func (idx *Indexer) IngestFile(ctx context.Context, path string, allowedExts []string, source string) (*Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	key := fileid.FileKey(absPath, info.ModTime().UnixNano(), info.Size())
	idx.mu.Lock()
	_, dup := idx.seen[key]
	idx.mu.Unlock()
	if dup {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return nil, nil
	}

	res, err := idx.Ingest(ctx, absPath, filepath.Base(absPath), source)
	if err != nil {
		return nil, err
	}
	idx.mu.Lock()
	idx.seen[key] = res.Entry.ID
	idx.mu.Unlock()
	return res, nil
}

// IngestDirectory walks dir recursively and ingests each regular file whose extension
// is in allowedExts. Returns the number of files ingested and the first error.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, allowedExts []string, source string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if len(allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// Resolve symlinks so we only ingest regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, ingestErr := idx.IngestFile(ctx, path, allowedExts, source)
		if ingestErr != nil {
			return ingestErr
		}
		if res != nil {
			n++
		}
		return nil
	})
	return n, err
}

// RemoveFile deletes the ledger entries recorded for the file at path. Vectors stay in
// the append-only index.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) int {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range idx.ledger.List() {
		if e.ImagePath == absPath && idx.Delete(ctx, e.ID) {
			removed++
		}
	}
	idx.mu.Lock()
	for key, id := range idx.seen {
		if _, ok := idx.ledger.Get(id); !ok {
			delete(idx.seen, key)
		}
	}
	idx.mu.Unlock()
	return removed
}

// SearchSimilar extracts features for the query image and returns its k nearest neighbors.
func (idx *Indexer) SearchSimilar(ctx context.Context, path string, k int) ([]vector.Result, error) {
	ex, err := idx.extractor.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}
	if len(ex.Features.Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	return idx.vectors.Search(ex.Features.Embedding, k)
}

// SearchText runs a full-text query over ledger entries and returns matching entries in
// relevance order.
func (idx *Indexer) SearchText(ctx context.Context, query string, limit int) ([]models.ExtractionEntry, error) {
	if idx.keywords == nil {
		return nil, errors.New("keyword search disabled")
	}
	hits, err := idx.keywords.Search(ctx, query, limit, &keyword.SearchOptions{CaptionBoost: 2, FuzzyEnabled: true})
	if err != nil {
		return nil, err
	}
	out := make([]models.ExtractionEntry, 0, len(hits))
	for _, h := range hits {
		if e, ok := idx.ledger.Get(h.ID); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Delete removes a ledger entry and its keyword document. It reports whether the entry existed.
func (idx *Indexer) Delete(ctx context.Context, id string) bool {
	if !idx.ledger.Delete(id) {
		return false
	}
	if idx.keywords != nil {
		if err := idx.keywords.Delete(ctx, id); err != nil {
			idx.logger.Warn("keyword delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	idx.logger.Debug("indexer entry deleted", zap.String("id", id))
	return true
}

// Reindex rebuilds the keyword index from the ledger, e.g. after loading persisted entries.
func (idx *Indexer) Reindex(ctx context.Context) (int, error) {
	if idx.keywords == nil {
		return 0, nil
	}
	n := 0
	for _, e := range idx.ledger.List() {
		if err := idx.keywords.Index(ctx, e); err != nil {
			return n, fmt.Errorf("reindex %s: %w", e.ID, err)
		}
		n++
	}
	return n, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
