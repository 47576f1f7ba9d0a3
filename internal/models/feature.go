// Package models defines core data structures for image features, extraction
// entries, and reasoning sessions.
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FeatureRecord is the structured output of the feature extraction service for one image.
// It is immutable once produced.
type FeatureRecord struct {
	Caption         string    `json:"caption"`
	Objects         []string  `json:"objects"`
	OCRText         string    `json:"ocr_text"`
	SceneLabels     []string  `json:"scene_labels"`
	ColorFeatures   []float64 `json:"color_features"`
	TextureFeatures []float64 `json:"texture_features"`
	Embedding       []float32 `json:"embedding,omitempty"`
}

// Clone returns a deep copy of the record.
func (f FeatureRecord) Clone() FeatureRecord {
	return FeatureRecord{
		Caption:         f.Caption,
		Objects:         cloneSlice(f.Objects),
		OCRText:         f.OCRText,
		SceneLabels:     cloneSlice(f.SceneLabels),
		ColorFeatures:   cloneSlice(f.ColorFeatures),
		TextureFeatures: cloneSlice(f.TextureFeatures),
		Embedding:       cloneSlice(f.Embedding),
	}
}

// ExtractionEntry is one ledger record: the display subset of a FeatureRecord plus
// bookkeeping. The embedding is indexed separately and not carried here.
type ExtractionEntry struct {
	ID              string    `json:"id"`
	ImageName       string    `json:"image_name"`
	Caption         string    `json:"caption"`
	Objects         []string  `json:"objects"`
	OCRText         string    `json:"ocr_text"`
	SceneLabels     []string  `json:"scene_labels"`
	ColorFeatures   []float64 `json:"color_features"`
	TextureFeatures []float64 `json:"texture_features"`
	ImagePath       string    `json:"image_path,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"`
}

// Clone returns a deep copy of the entry.
func (e ExtractionEntry) Clone() ExtractionEntry {
	out := e
	out.Objects = cloneSlice(e.Objects)
	out.SceneLabels = cloneSlice(e.SceneLabels)
	out.ColorFeatures = cloneSlice(e.ColorFeatures)
	out.TextureFeatures = cloneSlice(e.TextureFeatures)
	return out
}

// Features returns the entry's feature subset as a FeatureRecord without an embedding.
func (e ExtractionEntry) Features() FeatureRecord {
	return FeatureRecord{
		Caption:         e.Caption,
		Objects:         cloneSlice(e.Objects),
		OCRText:         e.OCRText,
		SceneLabels:     cloneSlice(e.SceneLabels),
		ColorFeatures:   cloneSlice(e.ColorFeatures),
		TextureFeatures: cloneSlice(e.TextureFeatures),
	}
}

// CleanFeatures trims text fields, drops empty list items and non-finite numbers.
// The embedding is copied as-is.
func CleanFeatures(f FeatureRecord) FeatureRecord {
	return FeatureRecord{
		Caption:         strings.TrimSpace(f.Caption),
		Objects:         cleanStrings(f.Objects),
		OCRText:         strings.TrimSpace(f.OCRText),
		SceneLabels:     cleanStrings(f.SceneLabels),
		ColorFeatures:   cleanFloats(f.ColorFeatures),
		TextureFeatures: cleanFloats(f.TextureFeatures),
		Embedding:       cloneSlice(f.Embedding),
	}
}

// NormalizeFeatures converts a loosely typed feature payload (as decoded from JSON)
// into a FeatureRecord. Text fields are trimmed and non-strings are formatted with
// fmt.Sprint; list elements that cannot be coerced to numbers are dropped.
// The second return value is the "extracted_at" timestamp when present and parseable.
func NormalizeFeatures(raw map[string]any) (FeatureRecord, time.Time) {
	rec := FeatureRecord{
		Caption:         toText(raw["caption"]),
		Objects:         toTextList(raw["objects"]),
		OCRText:         toText(raw["ocr_text"]),
		SceneLabels:     toTextList(raw["scene_labels"]),
		ColorFeatures:   toFloatList(raw["color_features"]),
		TextureFeatures: toFloatList(raw["texture_features"]),
	}
	if emb := toFloatList(raw["embedding"]); len(emb) > 0 {
		rec.Embedding = make([]float32, len(emb))
		for i, v := range emb {
			rec.Embedding[i] = float32(v)
		}
	}
	var extractedAt time.Time
	if s := toText(raw["extracted_at"]); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			extractedAt = t.UTC()
		}
	}
	return rec, extractedAt
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func toTextList(v any) []string {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []string:
		return cleanStrings(t)
	case string:
		// A single label is accepted in place of a list.
		return cleanStrings([]string{t})
	default:
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := toText(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toFloatList(v any) []float64 {
	items, ok := v.([]any)
	if !ok {
		if fs, ok := v.([]float64); ok {
			return cleanFloats(fs)
		}
		return []float64{}
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		if f, ok := toFloat(item); ok {
			out = append(out, f)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case bool:
		if t {
			f = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cleanFloats(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	for _, f := range in {
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			out = append(out, f)
		}
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
