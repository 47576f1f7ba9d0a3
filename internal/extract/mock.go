package extract

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/iris/internal/models"
	"github.com/hyperjump/iris/internal/vector"
)

// MockExtractor is a deterministic extractor for tests and offline runs. Features
// are derived from the file name and bytes so the same file always gets the same
// record; the embedding is unit length.
type MockExtractor struct {
	dimensions int
}

var _ Extractor = (*MockExtractor)(nil)

// NewMockExtractor returns an extractor producing embeddings of the given dimensions.
func NewMockExtractor(dimensions int) *MockExtractor {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockExtractor{dimensions: dimensions}
}

// Extract reads the file and returns synthetic features.
func (m *MockExtractor) Extract(ctx context.Context, path string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	words := nameWords(path)
	return &Extraction{Features: models.FeatureRecord{
		Caption:         "a picture of " + strings.Join(words, " "),
		Objects:         words,
		SceneLabels:     []string{"unknown"},
		ColorFeatures:   channelMeans(data),
		TextureFeatures: channelVariances(data),
		Embedding:       m.embed(data),
	}}, nil
}

func (m *MockExtractor) embed(data []byte) []float32 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	seed := float64(h.Sum64() % 1000003)
	emb := make([]float32, m.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	vector.Normalize(emb)
	return emb
}

func nameWords(path string) []string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	words := strings.FieldsFunc(strings.ToLower(stem), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	if len(words) == 0 {
		return []string{"image"}
	}
	return words
}

func channelMeans(data []byte) []float64 {
	var sum [3]float64
	var n [3]float64
	for i, b := range data {
		sum[i%3] += float64(b)
		n[i%3]++
	}
	out := make([]float64, 3)
	for c := range out {
		if n[c] > 0 {
			out[c] = sum[c] / n[c]
		}
	}
	return out
}

func channelVariances(data []byte) []float64 {
	means := channelMeans(data)
	var sq [3]float64
	var n [3]float64
	for i, b := range data {
		d := float64(b) - means[i%3]
		sq[i%3] += d * d
		n[i%3]++
	}
	out := make([]float64, 3)
	for c := range out {
		if n[c] > 0 {
			out[c] = sq[c] / n[c]
		}
	}
	return out
}
