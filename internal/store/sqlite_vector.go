package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// SQLiteVectorStore implements VectorStore on SQLite with exact brute-force ranking.
// Suited to small corpora and single-process deployments.
type SQLiteVectorStore struct {
	mu         sync.RWMutex
	db         *sql.DB
	dimensions int
	closed     bool
}

var _ VectorStore = (*SQLiteVectorStore)(nil)

// NewSQLiteVectorStore opens the store at path. Empty path creates an in-memory store.
func NewSQLiteVectorStore(path string, dimensions int) (*SQLiteVectorStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("sqlite vector store requires positive dimensions, got %d", dimensions)
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS vectors (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		document_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_owner ON vectors(owner_id, document_id);
	CREATE INDEX IF NOT EXISTS idx_vectors_document ON vectors(document_id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create vector schema: %w", err)
	}
	return &SQLiteVectorStore{db: db, dimensions: dimensions}, nil
}

// Insert upserts chunks in one transaction.
func (s *SQLiteVectorStore) Insert(ctx context.Context, chunks []*Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := checkDimensions(chunks, s.dimensions); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vectors (id, document_id, owner_id, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			owner_id = excluded.owner_id,
			embedding = excluded.embedding`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.OwnerID, encodeVector(normalized(c.Embedding))); err != nil {
			return nil, fmt.Errorf("failed to upsert vector %s: %w", c.ID, err)
		}
		ids = append(ids, c.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit vectors: %w", err)
	}
	return ids, nil
}

// Search scans the owner's vectors and ranks them by cosine similarity.
func (s *SQLiteVectorStore) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]VectorHit, error) {
	if len(query) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: s.dimensions, Got: len(query)}
	}
	if topK <= 0 {
		return []VectorHit{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	q := normalized(query)
	stmt := "SELECT id, document_id, embedding FROM vectors WHERE owner_id = ?"
	args := []any{filter.OwnerID}
	if len(filter.DocumentIDs) > 0 {
		stmt += " AND document_id IN (" + placeholders(len(filter.DocumentIDs)) + ")"
		for _, id := range filter.DocumentIDs {
			args = append(args, id)
		}
	}
	stmt += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan failed: %w", err)
	}
	defer rows.Close()

	var cands []scoredVector
	for rows.Next() {
		var (
			id, docID string
			blob      []byte
		)
		if err := rows.Scan(&id, &docID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector row: %w", err)
		}
		vec := decodeVector(blob)
		if len(vec) != len(q) || dot(vec, vec) == 0 {
			continue
		}
		cands = append(cands, scoredVector{
			hit:   VectorHit{ChunkID: id, DocumentID: docID, Score: dot(q, vec)},
			order: len(cands),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankTopK(cands, topK), nil
}

// DeleteByDocument removes a document's vectors.
func (s *SQLiteVectorStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	return s.exec(ctx, "DELETE FROM vectors WHERE document_id = ?", documentID)
}

// DeleteByOwner removes an owner's vectors.
func (s *SQLiteVectorStore) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	return s.exec(ctx, "DELETE FROM vectors WHERE owner_id = ?", ownerID)
}

func (s *SQLiteVectorStore) exec(ctx context.Context, query string, args ...any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vectors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats counts stored vectors.
func (s *SQLiteVectorStore) Stats(ctx context.Context) (VectorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return VectorStats{}, fmt.Errorf("store is closed")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&n); err != nil {
		return VectorStats{}, fmt.Errorf("failed to count vectors: %w", err)
	}
	return VectorStats{Backend: "sqlite", EntityCount: n, Dimensions: s.dimensions}, nil
}

// Close closes the database.
func (s *SQLiteVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// encodeVector serializes a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	blob := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(f))
	}
	return blob
}

func decodeVector(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}
