// Package ledger keeps an ordered, lock-guarded log of feature extraction results.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/iris/internal/models"
	"go.uber.org/zap"
)

// Persister mirrors ledger mutations to durable storage. Implementations must be
// safe for concurrent use.
type Persister interface {
	SaveEntry(ctx context.Context, entry *models.ExtractionEntry) error
	DeleteEntry(ctx context.Context, id string) error
	// ListEntries returns stored entries oldest first.
	ListEntries(ctx context.Context) ([]*models.ExtractionEntry, error)
}

// AppendInput is the data recorded for one extraction.
type AppendInput struct {
	Features    models.FeatureRecord
	ImageName   string
	ImagePath   string
	Source      string
	ExtractedAt time.Time // zero means now
}

// Ledger is the extraction history. Entries are kept in append order internally
// and exposed newest first.
type Ledger struct {
	// writeMu orders mutations together with their persistence so the store
	// sees appends and deletes in the same order as memory. Reads take mu only.
	writeMu   sync.Mutex
	mu        sync.Mutex
	entries   []models.ExtractionEntry
	persister Persister
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPersister enables write-through persistence; existing entries are loaded by New.
func WithPersister(p Persister) Option {
	return func(l *Ledger) { l.persister = p }
}

// WithLogger sets the logger used to report persistence failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger, loading previously persisted entries when a persister is set.
func New(ctx context.Context, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		entries: make([]models.ExtractionEntry, 0),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.persister != nil {
		stored, err := l.persister.ListEntries(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range stored {
			l.entries = append(l.entries, e.Clone())
		}
	}
	return l, nil
}

// Append records an extraction and returns a copy of the new entry.
func (l *Ledger) Append(in AppendInput) models.ExtractionEntry {
	features := models.CleanFeatures(in.Features)
	ts := in.ExtractedAt
	if ts.IsZero() {
		ts = l.now()
	}
	source := in.Source
	if source == "" {
		source = "unknown"
	}
	entry := models.ExtractionEntry{
		ID:              uuid.New().String(),
		ImageName:       in.ImageName,
		Caption:         features.Caption,
		Objects:         features.Objects,
		OCRText:         features.OCRText,
		SceneLabels:     features.SceneLabels,
		ColorFeatures:   features.ColorFeatures,
		TextureFeatures: features.TextureFeatures,
		ImagePath:       in.ImagePath,
		Timestamp:       ts.UTC(),
		Source:          source,
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	out := entry.Clone()
	l.mu.Unlock()

	if l.persister != nil {
		if err := l.persister.SaveEntry(context.Background(), &out); err != nil {
			l.logger.Warn("ledger persist failed", zap.String("id", out.ID), zap.Error(err))
		}
	}
	return out.Clone()
}

// List returns a deep copy of all entries, newest first.
func (l *Ledger) List() []models.ExtractionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ExtractionEntry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		out = append(out, l.entries[i].Clone())
	}
	return out
}

// Get returns a copy of the entry with id.
func (l *Ledger) Get(id string) (models.ExtractionEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id {
			return l.entries[i].Clone(), true
		}
	}
	return models.ExtractionEntry{}, false
}

// Delete removes the entry with id and reports whether it existed.
func (l *Ledger) Delete(id string) bool {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	removed := false
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			removed = true
			break
		}
	}
	l.mu.Unlock()

	if removed && l.persister != nil {
		if err := l.persister.DeleteEntry(context.Background(), id); err != nil {
			l.logger.Warn("ledger persist delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	return removed
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
