package mcp

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query       string   `json:"query" jsonschema:"the search query to execute"`
	OwnerID     string   `json:"owner_id,omitempty" jsonschema:"owner whose documents are searched, defaults to the server owner"`
	TopK        int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	Alpha       *float64 `json:"alpha,omitempty" jsonschema:"weight of the vector side between 0 and 1"`
	Rerank      *bool    `json:"rerank,omitempty" jsonschema:"rerank fused candidates, default true"`
	Mode        string   `json:"mode,omitempty" jsonschema:"hybrid, vector_only or lexical_only"`
	DocumentIDs []string `json:"document_ids,omitempty" jsonschema:"restrict results to these documents"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Query     string               `json:"query"`
	Total     int                  `json:"total"`
	Reranked  bool                 `json:"reranked"`
	ElapsedMS float64              `json:"elapsed_ms"`
	Results   []SearchResultOutput `json:"results" jsonschema:"list of search results"`
}

// SearchResultOutput is one result with the reason it matched.
type SearchResultOutput struct {
	ChunkID      string   `json:"chunk_id"`
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	Page         *int     `json:"page_number,omitempty"`
	Section      string   `json:"section,omitempty"`
	Content      string   `json:"content" jsonschema:"matched chunk content"`
	Score        float64  `json:"score"`
	LexicalScore *float64 `json:"bm25_score,omitempty"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`
	MatchReason  string   `json:"match_reason,omitempty" jsonschema:"which retrieval sides found this result"`
	Highlights   []string `json:"highlights,omitempty" jsonschema:"query terms found in the content"`
}

// CitationInput defines the input schema for the get_citation tool.
type CitationInput struct {
	ChunkID        string `json:"chunk_id" jsonschema:"chunk id from a search result"`
	OwnerID        string `json:"owner_id,omitempty" jsonschema:"owner of the chunk, defaults to the server owner"`
	IncludeContext *bool  `json:"include_context,omitempty" jsonschema:"include neighboring chunks, default true"`
	ContextSize    *int   `json:"context_size,omitempty" jsonschema:"neighbors on each side, 0 to 3, default 1"`
}

// CitationOutput defines the output schema for the get_citation tool.
type CitationOutput struct {
	ChunkID      string            `json:"chunk_id"`
	DocumentID   string            `json:"document_id"`
	DocumentName string            `json:"document_name"`
	Page         *int              `json:"page_number,omitempty"`
	Section      string            `json:"section,omitempty"`
	ChunkIndex   int               `json:"chunk_index"`
	TotalChunks  int               `json:"total_chunks"`
	Content      string            `json:"content"`
	Before       []string          `json:"prev_chunks,omitempty"`
	After        []string          `json:"next_chunks,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Markdown     string            `json:"markdown" jsonschema:"the citation rendered for display"`
}

// IndexStatsInput defines the input schema for the index_stats tool.
type IndexStatsInput struct {
	OwnerID string `json:"owner_id,omitempty" jsonschema:"owner to report on, defaults to the server owner"`
}

// IndexStatsOutput defines the output schema for the index_stats tool.
type IndexStatsOutput struct {
	OwnerID    string        `json:"owner_id,omitempty"`
	Documents  int           `json:"documents"`
	Ready      int           `json:"ready_documents"`
	Chunks     int           `json:"chunks"`
	Vector     VectorInfo    `json:"vector"`
	Lexical    *LexicalInfo  `json:"lexical,omitempty"`
	Reranker   string        `json:"reranker"`
	Embeddings EmbeddingInfo `json:"embeddings"`
	Queries    *QueryInfo    `json:"queries,omitempty"`
}

// QueryInfo summarizes searches served since the process started.
type QueryInfo struct {
	Total      int64    `json:"total"`
	Failed     int64    `json:"failed"`
	ZeroResult int64    `json:"zero_result"`
	Reranked   int64    `json:"reranked"`
	TopTerms   []string `json:"top_terms,omitempty"`
}

// VectorInfo describes the vector store.
type VectorInfo struct {
	Backend    string `json:"backend"`
	Vectors    int    `json:"vectors"`
	Dimensions int    `json:"dimensions"`
	Orphans    int    `json:"orphans,omitempty"`
}

// LexicalInfo describes an owner's BM25 index.
type LexicalInfo struct {
	Documents    int     `json:"documents"`
	Terms        int     `json:"terms"`
	AvgDocLength float64 `json:"avg_doc_length"`
}

// EmbeddingInfo reports the embedder serving queries so clients can judge
// semantic quality.
type EmbeddingInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"` // "ready" or "unavailable"
}
