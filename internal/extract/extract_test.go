package extract

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeImage(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestHTTPExtractor_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "dog.png" || string(data) != "PNGDATA" {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"caption":          " a dog ",
			"objects":          []any{"dog", ""},
			"scene_labels":     "park",
			"color_features":   []any{1, 2, 3},
			"texture_features": []any{"0.5"},
			"embedding":        []any{0.6, 0.8},
			"extracted_at":     "2025-01-02T03:04:05Z",
		})
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.URL, 5*time.Second)
	ex, err := e.Extract(context.Background(), writeImage(t, "dog.png", []byte("PNGDATA")))
	require.NoError(t, err)
	assert.Equal(t, "a dog", ex.Features.Caption)
	assert.Equal(t, []string{"dog"}, ex.Features.Objects)
	assert.Equal(t, []string{"park"}, ex.Features.SceneLabels)
	assert.Equal(t, []float64{1, 2, 3}, ex.Features.ColorFeatures)
	assert.Equal(t, []float64{0.5}, ex.Features.TextureFeatures)
	assert.Equal(t, []float32{0.6, 0.8}, ex.Features.Embedding)
	assert.Equal(t, 2025, ex.ExtractedAt.Year())
}

func TestHTTPExtractor_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.URL, 5*time.Second)
	_, err := e.Extract(context.Background(), writeImage(t, "a.jpg", []byte("x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
}

func TestMockExtractor_Deterministic(t *testing.T) {
	m := NewMockExtractor(64)
	path := writeImage(t, "red_car.jpg", []byte{10, 20, 30, 40, 50, 60})

	a, err := m.Extract(context.Background(), path)
	require.NoError(t, err)
	b, err := m.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, a.Features, b.Features)
	assert.Equal(t, "a picture of red car", a.Features.Caption)
	assert.Equal(t, []string{"red", "car"}, a.Features.Objects)
	assert.Equal(t, []float64{25, 35, 45}, a.Features.ColorFeatures)
	assert.Equal(t, []float64{225, 225, 225}, a.Features.TextureFeatures)
	require.Len(t, a.Features.Embedding, 64)

	var norm float64
	for _, v := range a.Features.Embedding {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)

	other, err := m.Extract(context.Background(), writeImage(t, "red_car.jpg", []byte{1, 2, 3}))
	require.NoError(t, err)
	assert.NotEqual(t, a.Features.Embedding, other.Features.Embedding)
}

type countingExtractor struct {
	calls atomic.Int32
	inner Extractor
}

func (c *countingExtractor) Extract(ctx context.Context, path string) (*Extraction, error) {
	c.calls.Add(1)
	return c.inner.Extract(ctx, path)
}

func TestCachingExtractor(t *testing.T) {
	inner := &countingExtractor{inner: NewMockExtractor(8)}
	c := NewCachingExtractor(inner, 2)
	ctx := context.Background()

	p1 := writeImage(t, "one.jpg", []byte("one"))
	p1copy := writeImage(t, "copy.jpg", []byte("one"))
	p2 := writeImage(t, "two.jpg", []byte("two"))
	p3 := writeImage(t, "three.jpg", []byte("three"))

	first, err := c.Extract(ctx, p1)
	require.NoError(t, err)
	again, err := c.Extract(ctx, p1copy)
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, first.Features, again.Features)

	again.Features.Objects[0] = "mutated"
	cached, err := c.Extract(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, "one", cached.Features.Objects[0])

	_, err = c.Extract(ctx, p2)
	require.NoError(t, err)
	_, err = c.Extract(ctx, p3) // evicts one.jpg
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = c.Extract(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, int32(4), inner.calls.Load())
}
