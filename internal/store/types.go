// Package store holds the retrieval indexes and the chunk corpus:
// per-owner BM25 indexes, pluggable vector stores (HNSW, pgvector, SQLite)
// and the corpus of documents and chunks (SQLite, Badger).
package store

import (
	"context"
	"fmt"
	"time"
)

// DocumentStatus tracks a document through ingestion.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}

// Document is an ingested source document owned by one owner.
type Document struct {
	ID           string
	OwnerID      string
	Name         string
	Source       string // file path or URL, informational
	Status       DocumentStatus
	ErrorMessage string
	ChunkCount   int
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is the atomic retrievable unit.
// Chunks are immutable once written; re-ingestion replaces them.
type Chunk struct {
	ID         string
	DocumentID string
	OwnerID    string
	Sequence   int // position within the document
	Content    string
	Page       *int // nil when the source has no pages
	Section    string
	Metadata   map[string]string
	Embedding  []float32 // only set on the ingest path
	CreatedAt  time.Time
}

// Filter scopes a search. OwnerID is required; DocumentIDs narrows it further.
type Filter struct {
	OwnerID     string
	DocumentIDs []string
}

// documentSet returns DocumentIDs as a set, or nil when unrestricted.
func (f Filter) documentSet() map[string]struct{} {
	if len(f.DocumentIDs) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(f.DocumentIDs))
	for _, id := range f.DocumentIDs {
		set[id] = struct{}{}
	}
	return set
}

// VectorHit is one nearest-neighbor result.
type VectorHit struct {
	ChunkID    string
	DocumentID string
	Score      float64 // cosine similarity of normalized vectors
}

// VectorStats describes a vector store.
type VectorStats struct {
	Backend     string `json:"backend"`
	EntityCount int    `json:"vectors"`
	Dimensions  int    `json:"dimensions"`
	Orphans     int    `json:"orphans,omitempty"` // lazily deleted graph nodes (HNSW only)
}

// VectorStore persists chunk embeddings and runs filtered nearest-neighbor search.
// Implementations L2-normalize vectors on insert and query.
type VectorStore interface {
	// Insert upserts chunks with embeddings and returns their ids.
	Insert(ctx context.Context, chunks []*Chunk) ([]string, error)

	// Search returns up to topK hits within the filter, best first.
	Search(ctx context.Context, query []float32, topK int, filter Filter) ([]VectorHit, error)

	// DeleteByDocument removes a document's vectors and returns how many were removed.
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// DeleteByOwner removes all of an owner's vectors.
	DeleteByOwner(ctx context.Context, ownerID string) (int, error)

	Stats(ctx context.Context) (VectorStats, error)
	Close() error
}

// CorpusStore persists documents and chunk text.
// The lexical index is rebuilt from it; it is the source of truth for citations.
type CorpusStore interface {
	// SaveDocument inserts or updates a document.
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	SetStatus(ctx context.Context, id string, status DocumentStatus, message string) error
	ListDocuments(ctx context.Context, ownerID string) ([]*Document, error)

	// ReplaceChunks atomically replaces all chunks of a document.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)

	// ChunksByOwner returns the chunks of an owner's ready documents in a
	// stable order. Lexical scopes are built from it.
	ChunksByOwner(ctx context.Context, ownerID string) ([]*Chunk, error)

	// ChunksByDocument returns a document's chunks ordered by Sequence.
	ChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error)
	CountChunks(ctx context.Context, documentID string) (int, error)

	// DeleteDocument removes a document and its chunks, returning the chunk count removed.
	DeleteDocument(ctx context.Context, id string) (int, error)

	// DeleteOwner removes all documents and chunks of an owner.
	DeleteOwner(ctx context.Context, ownerID string) (int, error)

	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
