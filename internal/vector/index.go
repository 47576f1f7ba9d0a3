// Package vector provides a flat in-memory similarity index over fixed-dimension embeddings.
package vector

import "errors"

// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Metadata is the opaque payload stored alongside each vector.
type Metadata map[string]any

// Index defines vector storage and nearest-neighbor lookup.
type Index interface {
	Insert(vector []float32, metadata Metadata) error
	Search(query []float32, k int) ([]Result, error)
	Size() int
	Dimensions() int
}

// Result is a single nearest-neighbor hit.
type Result struct {
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"` // squared Euclidean distance
}
