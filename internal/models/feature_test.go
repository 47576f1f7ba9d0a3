package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFeatures(t *testing.T) {
	raw := map[string]any{
		"caption":          "  a dog on a beach ",
		"objects":          []any{"dog", " ", 3, "frisbee "},
		"ocr_text":         42,
		"scene_labels":     " beach ",
		"color_features":   []any{1.5, "2.5", "abc", nil, true},
		"texture_features": []any{0.1, math.Inf(1)},
		"embedding":        []any{0.25, 0.5},
		"extracted_at":     "2024-05-01T10:00:00Z",
	}
	rec, at := NormalizeFeatures(raw)

	assert.Equal(t, "a dog on a beach", rec.Caption)
	assert.Equal(t, []string{"dog", "3", "frisbee"}, rec.Objects)
	assert.Equal(t, "42", rec.OCRText)
	assert.Equal(t, []string{"beach"}, rec.SceneLabels)
	assert.Equal(t, []float64{1.5, 2.5, 1}, rec.ColorFeatures)
	assert.Equal(t, []float64{0.1}, rec.TextureFeatures)
	assert.Equal(t, []float32{0.25, 0.5}, rec.Embedding)
	assert.True(t, at.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestNormalizeFeatures_badTimestamp(t *testing.T) {
	_, at := NormalizeFeatures(map[string]any{"extracted_at": "yesterday"})
	assert.True(t, at.IsZero())
}

func TestNormalizeFeatures_wrongTypes(t *testing.T) {
	rec, _ := NormalizeFeatures(map[string]any{"objects": 7, "color_features": "1,2"})
	assert.Empty(t, rec.Objects)
	assert.Empty(t, rec.ColorFeatures)
	assert.Nil(t, rec.Embedding)
}

func TestCleanFeatures(t *testing.T) {
	rec := CleanFeatures(FeatureRecord{
		Caption:       " cat ",
		Objects:       []string{"", " cat"},
		ColorFeatures: []float64{math.NaN(), 3},
	})
	assert.Equal(t, "cat", rec.Caption)
	assert.Equal(t, []string{"cat"}, rec.Objects)
	assert.Equal(t, []float64{3}, rec.ColorFeatures)
}

func TestExtractionEntry_CloneIsDeep(t *testing.T) {
	e := ExtractionEntry{Objects: []string{"a"}, ColorFeatures: []float64{1}}
	c := e.Clone()
	c.Objects[0] = "b"
	c.ColorFeatures[0] = 2
	assert.Equal(t, "a", e.Objects[0])
	assert.Equal(t, 1.0, e.ColorFeatures[0])
}
