package extract

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

// CachingExtractor memoizes another extractor by image content hash. Re-uploading the
// same bytes under a different name does not hit the feature service again.
type CachingExtractor struct {
	next     Extractor
	capacity int

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
}

var _ Extractor = (*CachingExtractor)(nil)

type cacheEntry struct {
	key   string
	value Extraction
}

// NewCachingExtractor wraps next with an LRU cache of the given capacity.
func NewCachingExtractor(next Extractor, capacity int) *CachingExtractor {
	if capacity <= 0 {
		capacity = 256
	}
	return &CachingExtractor{
		next:     next,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Extract returns the cached features for identical content or delegates.
func (c *CachingExtractor) Extract(ctx context.Context, path string) (*Extraction, error) {
	key, err := contentKey(path)
	if err != nil {
		return nil, err
	}
	if ex, ok := c.get(key); ok {
		return ex, nil
	}
	ex, err := c.next.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	c.set(key, *ex)
	return ex, nil
}

// Len returns the number of cached entries.
func (c *CachingExtractor) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *CachingExtractor) get(key string) (*Extraction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	v := elem.Value.(*cacheEntry).value
	return &Extraction{Features: v.Features.Clone(), ExtractedAt: v.ExtractedAt}, true
}

func (c *CachingExtractor) set(key string, value Extraction) {
	value.Features = value.Features.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}
	c.items[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func contentKey(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash image: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
