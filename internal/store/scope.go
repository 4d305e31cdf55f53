package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxWarmScopes bounds how many owner indexes stay in memory.
const DefaultMaxWarmScopes = 256

// ChunkSource supplies the chunks a scope is built from.
type ChunkSource interface {
	ChunksByOwner(ctx context.Context, ownerID string) ([]*Chunk, error)
}

// ScopeRegistry holds one BM25 index per owner.
// Indexes are built lazily from the corpus and kept in an LRU; mutations
// are applied to warm scopes only, cold scopes rebuild on next use.
type ScopeRegistry struct {
	source    ChunkSource
	params    BM25Params
	tokenizer Tokenizer

	cache *lru.Cache[string, *BM25Index]
	group singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64 // bumped on every mutation of an owner
}

// NewScopeRegistry creates a registry. maxScopes <= 0 selects DefaultMaxWarmScopes.
func NewScopeRegistry(source ChunkSource, params BM25Params, tokenizer Tokenizer, maxScopes int) (*ScopeRegistry, error) {
	if maxScopes <= 0 {
		maxScopes = DefaultMaxWarmScopes
	}
	cache, err := lru.New[string, *BM25Index](maxScopes)
	if err != nil {
		return nil, fmt.Errorf("failed to create scope cache: %w", err)
	}
	return &ScopeRegistry{
		source:      source,
		params:      params,
		tokenizer:   tokenizer,
		cache:       cache,
		generations: make(map[string]uint64),
	}, nil
}

// Get returns the owner's index, building it from the corpus on a miss.
// Concurrent misses for the same owner share one build.
func (r *ScopeRegistry) Get(ctx context.Context, ownerID string) (*BM25Index, error) {
	if idx, ok := r.cache.Get(ownerID); ok {
		return idx, nil
	}

	v, err, _ := r.group.Do(ownerID, func() (interface{}, error) {
		if idx, ok := r.cache.Peek(ownerID); ok {
			return idx, nil
		}

		gen := r.generation(ownerID)
		start := time.Now()

		chunks, err := r.source.ChunksByOwner(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load chunks for owner %s: %w", ownerID, err)
		}
		idx := NewBM25Index(r.params, r.tokenizer)
		idx.Build(chunks)

		r.mu.Lock()
		if r.generations[ownerID] == gen {
			r.cache.Add(ownerID, idx)
		}
		r.mu.Unlock()

		slog.Debug("lexical_scope_built",
			slog.String("owner_id", ownerID),
			slog.Int("chunks", len(chunks)),
			slog.Duration("duration", time.Since(start)))
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*BM25Index), nil
}

// Add indexes chunks into the owner's scope if it is warm.
func (r *ScopeRegistry) Add(ownerID string, chunks ...*Chunk) {
	if idx, ok := r.touch(ownerID); ok {
		for _, c := range chunks {
			idx.Add(c)
		}
	}
}

// Remove drops chunks from the owner's scope if it is warm.
func (r *ScopeRegistry) Remove(ownerID string, chunkIDs ...string) {
	if idx, ok := r.touch(ownerID); ok {
		for _, id := range chunkIDs {
			idx.Remove(id)
		}
	}
}

// RemoveDocument drops a document's chunks from the owner's scope if it is warm.
func (r *ScopeRegistry) RemoveDocument(ownerID, documentID string) {
	if idx, ok := r.touch(ownerID); ok {
		idx.RemoveDocument(documentID)
	}
}

// Drop evicts the owner's scope.
func (r *ScopeRegistry) Drop(ownerID string) {
	r.mu.Lock()
	r.generations[ownerID]++
	r.cache.Remove(ownerID)
	r.mu.Unlock()
}

// Warm reports whether the owner's scope is in memory.
func (r *ScopeRegistry) Warm(ownerID string) bool {
	return r.cache.Contains(ownerID)
}

// Len returns the number of warm scopes.
func (r *ScopeRegistry) Len() int {
	return r.cache.Len()
}

// touch records a mutation and returns the warm index, if any.
// An in-flight build that started before the mutation is not cached.
func (r *ScopeRegistry) touch(ownerID string) (*BM25Index, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[ownerID]++
	return r.cache.Peek(ownerID)
}

func (r *ScopeRegistry) generation(ownerID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[ownerID]
}
