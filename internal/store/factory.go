package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// VectorBackend names a vector store implementation.
type VectorBackend string

const (
	// VectorBackendHNSW is the in-process HNSW graph (default).
	VectorBackendHNSW VectorBackend = "hnsw"

	// VectorBackendPostgres uses pgvector, or a real[] scan without the extension.
	VectorBackendPostgres VectorBackend = "postgres"

	// VectorBackendSQLite is a brute-force cosine scan over SQLite rows.
	VectorBackendSQLite VectorBackend = "sqlite"
)

// CorpusBackend names a corpus store implementation.
type CorpusBackend string

const (
	CorpusBackendSQLite CorpusBackend = "sqlite"
	CorpusBackendBadger CorpusBackend = "badger"
)

// VectorOptions selects and configures a vector backend.
type VectorOptions struct {
	Backend     string
	Dimensions  int
	M           int
	EfSearch    int
	PostgresDSN string
	SQLitePath  string
}

// NewVectorStore creates the configured vector backend.
// Files live under dataDir; an empty dataDir keeps file backends in memory.
func NewVectorStore(ctx context.Context, dataDir string, opts VectorOptions) (VectorStore, error) {
	switch VectorBackend(opts.Backend) {
	case VectorBackendHNSW, "":
		var path string
		if dataDir != "" {
			path = filepath.Join(dataDir, "vectors.hnsw")
		}
		return NewHNSWStore(HNSWConfig{
			Dimensions: opts.Dimensions,
			M:          opts.M,
			EfSearch:   opts.EfSearch,
			Path:       path,
		})

	case VectorBackendPostgres:
		return NewPostgresStore(ctx, PostgresConfig{
			DSN:        opts.PostgresDSN,
			Dimensions: opts.Dimensions,
		})

	case VectorBackendSQLite:
		path := opts.SQLitePath
		if path == "" && dataDir != "" {
			path = filepath.Join(dataDir, "vectors.db")
		}
		return NewSQLiteVectorStore(path, opts.Dimensions)

	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, postgres, sqlite)", opts.Backend)
	}
}

// NewCorpusStore creates the configured corpus backend.
// path overrides the default location under dataDir; both empty means in memory.
func NewCorpusStore(backend, dataDir, path string) (CorpusStore, error) {
	switch CorpusBackend(backend) {
	case CorpusBackendSQLite, "":
		if path == "" && dataDir != "" {
			path = filepath.Join(dataDir, "corpus.db")
		}
		return NewSQLiteCorpus(path)

	case CorpusBackendBadger:
		if path == "" && dataDir != "" {
			path = filepath.Join(dataDir, "corpus.badger")
		}
		return NewBadgerCorpus(path)

	default:
		return nil, fmt.Errorf("unknown corpus backend: %s (valid options: sqlite, badger)", backend)
	}
}
