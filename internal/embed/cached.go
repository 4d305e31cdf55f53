package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings to cache.
// At 384 dimensions * 4 bytes * 1000 entries, about 1.5MB.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU cache keyed by model and text.
// Repeated queries skip the provider call.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Size   int
	Hits   int64
	Misses int64
}

// NewCachedEmbedder wraps inner. cacheSize <= 0 selects DefaultEmbeddingCacheSize.
func NewCachedEmbedder(inner Embedder, cacheSize int) (*CachedEmbedder, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// cacheKey hashes model and text so keys have a fixed length.
func (c *CachedEmbedder) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached embedding if present, otherwise computes and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch serves cached texts from the cache and sends the rest in one batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			c.hits.Add(1)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}
	c.misses.Add(int64(len(missTexts)))

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if err := checkBatch(vectors, len(missTexts), 0); err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		results[i] = vectors[j]
		c.cache.Add(c.cacheKey(texts[i]), vectors[j])
	}
	return results, nil
}

// Stats returns cache counters.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Size: c.cache.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close purges the cache and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}
