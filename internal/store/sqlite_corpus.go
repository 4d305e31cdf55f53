package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// SQLiteCorpus implements CorpusStore on SQLite.
type SQLiteCorpus struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ CorpusStore = (*SQLiteCorpus)(nil)

const corpusSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);

CREATE TABLE IF NOT EXISTS chunks (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	owner_id TEXT NOT NULL,
	sequence_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	page_number INTEGER,
	section TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, sequence_index);
CREATE INDEX IF NOT EXISTS idx_chunks_owner ON chunks(owner_id);
`

// NewSQLiteCorpus opens the corpus at path. Empty path creates an in-memory corpus.
func NewSQLiteCorpus(path string) (*SQLiteCorpus, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(corpusSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create corpus schema: %w", err)
	}
	return &SQLiteCorpus{db: db}, nil
}

func (s *SQLiteCorpus) check() error {
	if s.closed {
		return fmt.Errorf("corpus is closed")
	}
	return nil
}

// SaveDocument inserts or updates a document.
func (s *SQLiteCorpus) SaveDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = StatusPending
	}

	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO documents
		(id, owner_id, name, source, status, error_message, chunk_count, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			source = excluded.source,
			status = excluded.status,
			error_message = excluded.error_message,
			chunk_count = excluded.chunk_count,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		doc.ID, doc.OwnerID, doc.Name, doc.Source, string(doc.Status), doc.ErrorMessage,
		doc.ChunkCount, meta, doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns a document or a NotFound error.
func (s *SQLiteCorpus) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT id, owner_id, name, source, status, error_message,
		chunk_count, metadata, created_at, updated_at FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, amanerrors.NotFound("document", id)
	}
	return doc, err
}

// SetStatus updates a document's status and error message.
func (s *SQLiteCorpus) SetStatus(ctx context.Context, id string, status DocumentStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), message, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to set status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return amanerrors.NotFound("document", id)
	}
	return nil
}

// ListDocuments returns an owner's documents, oldest first.
func (s *SQLiteCorpus) ListDocuments(ctx context.Context, ownerID string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id, name, source, status, error_message,
		chunk_count, metadata, created_at, updated_at FROM documents
		WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ReplaceChunks atomically replaces a document's chunks and updates its chunk count.
func (s *SQLiteCorpus) ReplaceChunks(ctx context.Context, documentID string, chunks []*Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", documentID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return amanerrors.NotFound("document", documentID)
		}
		return fmt.Errorf("failed to look up document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(id, document_id, owner_id, sequence_index, content, page_number, section, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to document %s, not %s", c.ID, c.DocumentID, documentID)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		meta, err := marshalMetadata(c.Metadata)
		if err != nil {
			return err
		}
		var page sql.NullInt64
		if c.Page != nil {
			page = sql.NullInt64{Int64: int64(*c.Page), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.OwnerID, c.Sequence,
			c.Content, page, c.Section, meta, c.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE documents SET chunk_count = ?, updated_at = ? WHERE id = ?",
		len(chunks), now.UnixNano(), documentID); err != nil {
		return fmt.Errorf("failed to update chunk count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

const chunkColumns = `id, document_id, owner_id, sequence_index, content, page_number, section, metadata, created_at`

// GetChunk returns a chunk or a NotFound error.
func (s *SQLiteCorpus) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	c, err := scanChunk(s.db.QueryRowContext(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, amanerrors.NotFound("chunk", id)
	}
	return c, err
}

// GetChunks returns the chunks that exist among ids, in the order of ids.
func (s *SQLiteCorpus) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	found, err := s.queryChunks(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Chunk, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]*Chunk, 0, len(found))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ChunksByOwner returns the chunks of an owner's ready documents in insertion order.
func (s *SQLiteCorpus) ChunksByOwner(ctx context.Context, ownerID string) ([]*Chunk, error) {
	return s.queryChunks(ctx, `SELECT c.id, c.document_id, c.owner_id, c.sequence_index, c.content,
		c.page_number, c.section, c.metadata, c.created_at
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.owner_id = ? AND d.status = ?
		ORDER BY c.seq`, ownerID, string(StatusReady))
}

// ChunksByDocument returns a document's chunks ordered by sequence index.
func (s *SQLiteCorpus) ChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	return s.queryChunks(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE document_id = ? ORDER BY sequence_index", documentID)
}

// CountChunks counts a document's chunks.
func (s *SQLiteCorpus) CountChunks(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE document_id = ?", documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// DeleteDocument removes a document and its chunks.
func (s *SQLiteCorpus) DeleteDocument(ctx context.Context, id string) (int, error) {
	return s.deleteWhere(ctx, "document_id = ?", "id = ?", id)
}

// DeleteOwner removes an owner's documents and chunks.
func (s *SQLiteCorpus) DeleteOwner(ctx context.Context, ownerID string) (int, error) {
	return s.deleteWhere(ctx, "owner_id = ?", "owner_id = ?", ownerID)
}

func (s *SQLiteCorpus) deleteWhere(ctx context.Context, chunkCond, docCond string, arg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE "+chunkCond, arg)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE "+docCond, arg); err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteCorpus) queryChunks(ctx context.Context, query string, args ...any) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Close closes the database.
func (s *SQLiteCorpus) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc                  Document
		status, meta         string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Name, &doc.Source, &status, &doc.ErrorMessage,
		&doc.ChunkCount, &meta, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Status = DocumentStatus(status)
	doc.CreatedAt = time.Unix(0, createdAt)
	doc.UpdatedAt = time.Unix(0, updatedAt)

	m, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	doc.Metadata = m
	return &doc, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		c         Chunk
		page      sql.NullInt64
		meta      string
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.OwnerID, &c.Sequence, &c.Content,
		&page, &c.Section, &meta, &createdAt); err != nil {
		return nil, err
	}
	if page.Valid {
		p := int(page.Int64)
		c.Page = &p
	}
	c.CreatedAt = time.Unix(0, createdAt)

	m, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	c.Metadata = m
	return &c, nil
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalMetadata(s string) (map[string]string, error) {
	m := map[string]string{}
	if s == "" || s == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}
