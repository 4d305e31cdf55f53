package store

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DefaultPostgresTable is the table holding chunk vectors.
const DefaultPostgresTable = "amanrag_vectors"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig configures the relational vector backend.
type PostgresConfig struct {
	DSN        string
	Table      string
	Dimensions int
}

// PostgresStore implements VectorStore on PostgreSQL.
// With the pgvector extension it ranks in SQL by cosine distance over an
// HNSW index; without it, vectors are stored as real[] and ranked in Go.
type PostgresStore struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
	native     bool // pgvector extension available

	// iterativeScan is set when pgvector supports hnsw.iterative_scan (0.8+).
	iterativeScan bool
}

var _ VectorStore = (*PostgresStore)(nil)

// NewPostgresStore connects and creates the schema if needed.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("postgres store requires positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.Table == "" {
		cfg.Table = DefaultPostgresTable
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, table: cfg.Table, dimensions: cfg.Dimensions}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		slog.Warn("pgvector_unavailable",
			slog.String("table", s.table),
			slog.String("error", err.Error()),
			slog.String("fallback", "real[] with in-process ranking"))
	} else {
		s.native = true
	}
	if s.native {
		var version string
		if err := s.pool.QueryRow(ctx, "SELECT extversion FROM pg_extension WHERE extname = 'vector'").Scan(&version); err != nil {
			return fmt.Errorf("failed to read pgvector version: %w", err)
		}
		s.iterativeScan = iterativeScanSupported(version)
		if !s.iterativeScan {
			slog.Warn("pgvector_iterative_scan_unavailable",
				slog.String("version", version),
				slog.String("effect", "filtered searches may return fewer than top_k hits"))
		}
	}

	column := "real[]"
	if s.native {
		column = fmt.Sprintf("vector(%d)", s.dimensions)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			embedding %s NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, column),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_owner_idx ON %s (owner_id, document_id)", s.table, s.table),
	}
	if s.native {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)",
			s.table, s.table))
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create vector schema: %w", err)
		}
	}
	return nil
}

// iterativeScanSupported reports whether a pgvector extversion such as
// "0.7.4" or "0.8.0" is at least 0.8.
func iterativeScanSupported(version string) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return major > 0 || minor >= 8
}

// Native reports whether the pgvector extension is in use.
func (s *PostgresStore) Native() bool {
	return s.native
}

// Insert upserts chunks in one transaction.
func (s *PostgresStore) Insert(ctx context.Context, chunks []*Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := checkDimensions(chunks, s.dimensions); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`INSERT INTO %s (id, document_id, owner_id, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			owner_id = EXCLUDED.owner_id,
			embedding = EXCLUDED.embedding`, s.table)

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, query, c.ID, c.DocumentID, c.OwnerID, s.encode(normalized(c.Embedding))); err != nil {
			return nil, fmt.Errorf("failed to upsert vector %s: %w", c.ID, err)
		}
		ids = append(ids, c.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit vectors: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) encode(v []float32) any {
	if s.native {
		return pgvector.NewVector(v)
	}
	return v
}

// Search ranks the owner's vectors by cosine similarity.
func (s *PostgresStore) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]VectorHit, error) {
	if len(query) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: s.dimensions, Got: len(query)}
	}
	if topK <= 0 {
		return []VectorHit{}, nil
	}
	q := normalized(query)

	if !s.native {
		return s.searchFallback(ctx, q, topK, filter)
	}

	var (
		where strings.Builder
		args  = []any{pgvector.NewVector(q), filter.OwnerID}
	)
	where.WriteString("owner_id = $2")
	if len(filter.DocumentIDs) > 0 {
		args = append(args, filter.DocumentIDs)
		where.WriteString(" AND document_id = ANY($3)")
	}
	args = append(args, topK)

	sql := fmt.Sprintf(`SELECT id, document_id, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1, id
		LIMIT $%d`, s.table, where.String(), len(args))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin search: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Keep scanning the index until LIMIT rows pass the filter.
	if s.iterativeScan {
		if _, err := tx.Exec(ctx, "SET LOCAL hnsw.iterative_scan = strict_order"); err != nil {
			return nil, fmt.Errorf("failed to configure index scan: %w", err)
		}
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	hits := make([]VectorHit, 0, topK)
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// searchFallback scans the owner's real[] vectors and ranks them in process.
func (s *PostgresStore) searchFallback(ctx context.Context, q []float32, topK int, filter Filter) ([]VectorHit, error) {
	sql := fmt.Sprintf("SELECT id, document_id, embedding FROM %s WHERE owner_id = $1", s.table)
	args := []any{filter.OwnerID}
	if len(filter.DocumentIDs) > 0 {
		sql += " AND document_id = ANY($2)"
		args = append(args, filter.DocumentIDs)
	}
	sql += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan failed: %w", err)
	}
	defer rows.Close()

	var cands []scoredVector
	for rows.Next() {
		var (
			id, docID string
			vec       []float32
		)
		if err := rows.Scan(&id, &docID, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan vector row: %w", err)
		}
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
func (s *PostgresStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", s.table), documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document vectors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByOwner removes an owner's vectors.
func (s *PostgresStore) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE owner_id = $1", s.table), ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete owner vectors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats counts stored vectors.
func (s *PostgresStore) Stats(ctx context.Context) (VectorStats, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.table)).Scan(&n); err != nil {
		return VectorStats{}, fmt.Errorf("failed to count vectors: %w", err)
	}
	backend := "postgres"
	if !s.native {
		backend = "postgres-array"
	}
	return VectorStats{Backend: backend, EntityCount: n, Dimensions: s.dimensions}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
