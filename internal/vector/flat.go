package vector

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FlatIndex is a brute-force squared-L2 index. Vectors and metadata share an ordinal;
// there is no deletion. Insert is serialized with a write lock, Search takes a read lock.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
	metadata   []Metadata
	mu         sync.RWMutex
}

var _ Index = (*FlatIndex)(nil)

// NewFlatIndex creates an empty index with a fixed dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
		metadata:   make([]Metadata, 0),
	}, nil
}

// Dimensions returns the fixed vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Insert appends a copy of vector with its metadata.
// Vectors of the wrong length are rejected with ErrDimensionMismatch.
func (f *FlatIndex) Insert(vector []float32, metadata Metadata) error {
	if len(vector) != f.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vector), f.dimensions)
	}
	vec := make([]float32, f.dimensions)
	copy(vec, vector)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = append(f.vectors, vec)
	f.metadata = append(f.metadata, cloneMetadata(metadata))
	return nil
}

// Search returns up to k entries by ascending squared distance to query.
// Equal distances keep insertion order. k larger than the corpus returns everything.
func (f *FlatIndex) Search(query []float32, k int) ([]Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vectors) == 0 {
		return []Result{}, nil
	}
	type scored struct {
		ordinal  int
		distance float64
	}
	scores := make([]scored, len(f.vectors))
	for i, vec := range f.vectors {
		scores[i] = scored{ordinal: i, distance: SquaredL2(query, vec)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].distance < scores[j].distance })
	if k > len(scores) {
		k = len(scores)
	}
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = Result{
			Metadata: cloneMetadata(f.metadata[scores[i].ordinal]),
			Distance: scores[i].distance,
		}
	}
	return results, nil
}

// Size returns the number of stored vectors.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Save writes a snapshot of the index to path. Format: dimension (4), n (4),
// then per entry: metadata length (4), metadata JSON, vector (dimension*4 bytes).
func (f *FlatIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer file.Close()
	if err := binary.Write(file, binary.LittleEndian, uint32(f.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(len(f.vectors))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, vec := range f.vectors {
		meta, err := json.Marshal(f.metadata[i])
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if err := binary.Write(file, binary.LittleEndian, uint32(len(meta))); err != nil {
			return fmt.Errorf("write metadata len: %w", err)
		}
		if _, err := file.Write(meta); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
		if _, err := file.Write(float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load replaces the index contents with the snapshot at path.
// A missing file is not an error; a dimension mismatch is.
func (f *FlatIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	var dim, n uint32
	if err := binary.Read(file, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != f.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, f.dimensions)
	}
	if err := binary.Read(file, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	vectors := make([][]float32, 0, n)
	metadata := make([]Metadata, 0, n)
	buf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var metaLen uint32
		if err := binary.Read(file, binary.LittleEndian, &metaLen); err != nil {
			return fmt.Errorf("read metadata len: %w", err)
		}
		raw := make([]byte, metaLen)
		if _, err := io.ReadFull(file, raw); err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		var meta Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
		if _, err := io.ReadFull(file, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		vectors = append(vectors, bytesToFloat32Slice(buf))
		metadata = append(metadata, meta)
	}
	f.mu.Lock()
	f.vectors = vectors
	f.metadata = metadata
	f.mu.Unlock()
	return nil
}

func cloneMetadata(m Metadata) Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
