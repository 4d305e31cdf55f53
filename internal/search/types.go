// Package search answers queries against an owner's corpus by fusing a BM25
// ranking with a vector ranking, optionally reranking the fused candidates,
// and annotating every result with a citation.
package search

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// Mode selects which retrieval sides a search uses.
type Mode string

const (
	// ModeHybrid fuses lexical and vector rankings.
	ModeHybrid Mode = "hybrid"

	// ModeVectorOnly ranks by vector similarity alone.
	ModeVectorOnly Mode = "vector_only"

	// ModeLexicalOnly ranks by BM25 alone.
	ModeLexicalOnly Mode = "lexical_only"
)

// ParseMode parses a mode name. Empty selects ModeHybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeHybrid:
		return ModeHybrid, nil
	case ModeVectorOnly, "vector":
		return ModeVectorOnly, nil
	case ModeLexicalOnly, "lexical", "bm25":
		return ModeLexicalOnly, nil
	default:
		return "", fmt.Errorf("unknown search mode %q (valid: hybrid, vector_only, lexical_only)", s)
	}
}

// Ranked is one entry of a single-source ranking, best first.
type Ranked struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// FromLexical converts BM25 hits to a ranking.
func FromLexical(hits []store.LexicalHit) []Ranked {
	out := make([]Ranked, len(hits))
	for i, h := range hits {
		out[i] = Ranked{ChunkID: h.ChunkID, DocumentID: h.DocumentID, Score: h.Score}
	}
	return out
}

// FromVector converts vector hits to a ranking.
func FromVector(hits []store.VectorHit) []Ranked {
	out := make([]Ranked, len(hits))
	for i, h := range hits {
		out[i] = Ranked{ChunkID: h.ChunkID, DocumentID: h.DocumentID, Score: h.Score}
	}
	return out
}

// Result is one search result. Scores absent from a side stay nil.
type Result struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`

	// Score is the fused score, or the single side's own score when only
	// one ranking contributed.
	Score        float64  `json:"score"`
	LexicalScore *float64 `json:"bm25_score,omitempty"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`

	// Filled in from the corpus after fusion.
	DocumentName string            `json:"document_name"`
	Content      string            `json:"content"`
	Sequence     int               `json:"chunk_index"`
	Page         *int              `json:"page_number,omitempty"`
	Section      string            `json:"section,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	Citation *Citation `json:"citation,omitempty"`
}

// Range is a highlighted span of rune offsets into a chunk's content, End exclusive.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Citation is the provenance of a result.
type Citation struct {
	ChunkID      string            `json:"chunk_id"`
	DocumentID   string            `json:"document_id"`
	DocumentName string            `json:"document_name"`
	Page         *int              `json:"page_number,omitempty"`
	Section      string            `json:"section,omitempty"`
	Content      string            `json:"content"`
	Preview      string            `json:"content_preview"`
	Score        float64           `json:"score"`
	Highlights   []Range           `json:"highlight_ranges"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CitationDetail is a chunk with its surrounding chunks, resolved on demand.
type CitationDetail struct {
	ChunkID      string            `json:"chunk_id"`
	DocumentID   string            `json:"document_id"`
	DocumentName string            `json:"document_name"`
	OwnerID      string            `json:"-"`
	Page         *int              `json:"page_number,omitempty"`
	Section      string            `json:"section,omitempty"`
	Sequence     int               `json:"chunk_index"`
	Content      string            `json:"content"`
	Before       []string          `json:"prev_chunks,omitempty"`
	After        []string          `json:"next_chunks,omitempty"`
	TotalChunks  int               `json:"total_chunks"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Request is a search request. Zero TopK and nil Alpha select the engine defaults.
type Request struct {
	Query       string
	OwnerID     string
	DocumentIDs []string
	TopK        int
	Alpha       *float64
	Rerank      bool
	Mode        Mode
}

// Response is the outcome of a search.
type Response struct {
	Query     string      `json:"query"`
	Results   []*Result   `json:"results"`
	Citations []*Citation `json:"citations"`
	Total     int         `json:"total"`
	ElapsedMS float64     `json:"elapsed_ms"`
	Reranked  bool        `json:"reranked"`
}

// Stats summarizes what the engine serves for an owner.
type Stats struct {
	Vector    store.VectorStats `json:"vector"`
	Lexical   *store.IndexStats `json:"lexical,omitempty"` // nil when no owner was given
	Documents int               `json:"documents"`
	Ready     int               `json:"ready_documents"`
	Chunks    int               `json:"chunks"`
	Reranker  string            `json:"reranker"`

	// Queries is nil unless the engine records metrics.
	Queries *telemetry.Snapshot `json:"queries,omitempty"`
}

// Float returns a pointer to v, for optional scores and Request.Alpha.
func Float(v float64) *float64 {
	return &v
}
