package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags and returns violations keyed by JSON field name.
func Validate(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return map[string]string{"request": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return out
}

// SearchRequest is the body of the search endpoints. An absent top_k
// selects the default; an explicit 0 is rejected.
type SearchRequest struct {
	Query       string   `json:"query" validate:"required"`
	OwnerID     string   `json:"owner_id" validate:"required"`
	TopK        *int     `json:"top_k" validate:"omitempty,min=1,max=100"`
	Alpha       *float64 `json:"alpha" validate:"omitempty,gte=0,lte=1"`
	Rerank      *bool    `json:"rerank"`
	Mode        string   `json:"mode" validate:"omitempty,oneof=hybrid vector_only lexical_only"`
	DocumentIDs []string `json:"document_ids" validate:"omitempty,dive,required"`
}

func (r *SearchRequest) toEngine(mode search.Mode) search.Request {
	rerank := true
	if r.Rerank != nil {
		rerank = *r.Rerank
	}
	if mode == "" {
		mode = search.Mode(r.Mode)
	}
	var topK int
	if r.TopK != nil {
		topK = *r.TopK
	}
	return search.Request{
		Query:       r.Query,
		OwnerID:     r.OwnerID,
		DocumentIDs: r.DocumentIDs,
		TopK:        topK,
		Alpha:       r.Alpha,
		Rerank:      rerank,
		Mode:        mode,
	}
}

// SearchResult is one result in a SearchResponse.
type SearchResult struct {
	ChunkID      string            `json:"chunk_id"`
	DocumentID   string            `json:"document_id"`
	DocumentName string            `json:"document_name"`
	Content      string            `json:"content"`
	Page         *int              `json:"page_number,omitempty"`
	Score        float64           `json:"score"`
	VectorScore  *float64          `json:"vector_score,omitempty"`
	BM25Score    *float64          `json:"bm25_score,omitempty"`
	RerankScore  *float64          `json:"rerank_score,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Citation     *search.Citation  `json:"citation,omitempty"`
}

// SearchResponse is the body returned by the search endpoints.
type SearchResponse struct {
	Query     string             `json:"query"`
	Total     int                `json:"total"`
	Results   []SearchResult     `json:"results"`
	ElapsedMS float64            `json:"elapsed_ms"`
	Reranked  bool               `json:"reranked"`
	Citations []*search.Citation `json:"citations"`
}

func newSearchResponse(resp *search.Response) *SearchResponse {
	out := &SearchResponse{
		Query:     resp.Query,
		Total:     resp.Total,
		Results:   make([]SearchResult, len(resp.Results)),
		ElapsedMS: resp.ElapsedMS,
		Reranked:  resp.Reranked,
		Citations: resp.Citations,
	}
	for i, r := range resp.Results {
		out.Results[i] = SearchResult{
			ChunkID:      r.ChunkID,
			DocumentID:   r.DocumentID,
			DocumentName: r.DocumentName,
			Content:      r.Content,
			Page:         r.Page,
			Score:        r.Score,
			VectorScore:  r.VectorScore,
			BM25Score:    r.LexicalScore,
			RerankScore:  r.RerankScore,
			Metadata:     r.Metadata,
			Citation:     r.Citation,
		}
	}
	if out.Citations == nil {
		out.Citations = []*search.Citation{}
	}
	return out
}

// CitationQuery holds the query parameters of GET /citations/:chunk_id.
type CitationQuery struct {
	OwnerID        string `query:"owner_id" json:"owner_id"`
	IncludeContext *bool  `query:"include_context" json:"include_context"`
	ContextSize    *int   `query:"context_size" json:"context_size" validate:"omitempty,gte=0,lte=3"`
}

// CitationBatchRequest is the body of POST /citations/batch.
type CitationBatchRequest struct {
	ChunkIDs       []string `json:"chunk_ids" validate:"required,min=1,max=100,dive,required"`
	OwnerID        string   `json:"owner_id"`
	IncludeContext *bool    `json:"include_context"`
	ContextSize    *int     `json:"context_size" validate:"omitempty,gte=0,lte=3"`
}

// IngestRequest is the body of POST /documents.
type IngestRequest struct {
	DocumentID string            `json:"document_id" validate:"required"`
	OwnerID    string            `json:"owner_id" validate:"required"`
	Name       string            `json:"name"`
	Source     string            `json:"source"`
	Text       string            `json:"text" validate:"required"`
	Strategy   string            `json:"strategy" validate:"omitempty,oneof=fixed semantic recursive page_aware"`
	Metadata   map[string]string `json:"metadata"`
}

// DocumentResponse describes a stored document.
type DocumentResponse struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	Name         string            `json:"name"`
	Source       string            `json:"source,omitempty"`
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ChunkCount   int               `json:"chunk_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func newDocumentResponse(d *store.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Name:         d.Name,
		Source:       d.Source,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		ChunkCount:   d.ChunkCount,
		Metadata:     d.Metadata,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// DeleteResponse reports how many chunks a delete removed.
type DeleteResponse struct {
	Deleted int `json:"deleted_chunks"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	VectorBackend string          `json:"vector_backend"`
	Vectors       int             `json:"vectors"`
	Dimensions    int             `json:"dimensions"`
	Orphans       int             `json:"orphans,omitempty"`
	Reranker      string          `json:"reranker"`
	OwnerID       string          `json:"owner_id,omitempty"`
	Documents     int             `json:"documents,omitempty"`
	Ready         int             `json:"ready_documents,omitempty"`
	Chunks        int             `json:"chunks,omitempty"`
	Lexical       *LexicalSummary `json:"lexical,omitempty"`

	Queries *telemetry.Snapshot `json:"queries,omitempty"`
}

// LexicalSummary describes an owner's BM25 index.
type LexicalSummary struct {
	Documents    int     `json:"documents"`
	Terms        int     `json:"terms"`
	AvgDocLength float64 `json:"avg_doc_length"`
}

func newStatsResponse(ownerID string, s *search.Stats) *StatsResponse {
	out := &StatsResponse{
		VectorBackend: s.Vector.Backend,
		Vectors:       s.Vector.EntityCount,
		Dimensions:    s.Vector.Dimensions,
		Orphans:       s.Vector.Orphans,
		Reranker:      s.Reranker,
		OwnerID:       ownerID,
		Documents:     s.Documents,
		Ready:         s.Ready,
		Chunks:        s.Chunks,
		Queries:       s.Queries,
	}
	if s.Lexical != nil {
		out.Lexical = &LexicalSummary{
			Documents:    s.Lexical.DocumentCount,
			Terms:        s.Lexical.TermCount,
			AvgDocLength: s.Lexical.AvgDocLength,
		}
	}
	return out
}
