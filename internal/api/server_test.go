package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

const testDims = 32

func newTestServer(t *testing.T) *Server {
	t.Helper()
	corpus, err := store.NewSQLiteCorpus("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = corpus.Close() })

	vectors, err := store.NewSQLiteVectorStore("", testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	tokenizer, err := store.NewTokenizer(store.DefaultMinTokenLength)
	require.NoError(t, err)
	scopes, err := store.NewScopeRegistry(corpus, store.DefaultBM25Params(), tokenizer, 0)
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder(testDims)
	coord, err := ingest.NewCoordinator(corpus, vectors, scopes, embedder)
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	engine, err := search.NewEngine(scopes, vectors, corpus, embedder,
		search.WithTokenizer(tokenizer),
		search.WithMetrics(telemetry.NewQueryMetrics(telemetry.DefaultConfig())))
	require.NoError(t, err)

	return NewServer(":0", engine, coord, nil)
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func ingestDoc(t *testing.T, app *fiber.App, owner, id, text string) DocumentResponse {
	t.Helper()
	status, raw := doJSON(t, app, http.MethodPost, "/api/v1/documents", IngestRequest{
		DocumentID: id, OwnerID: owner, Name: id + ".md", Text: text,
	})
	require.Equal(t, http.StatusCreated, status, string(raw))
	var doc DocumentResponse
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestServer_Healthy(t *testing.T) {
	app := newTestServer(t).App()

	status, raw := doJSON(t, app, http.MethodGet, "/check/healthy", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"result":"ok"}`, string(raw))
}

func TestServer_IngestThenSearch(t *testing.T) {
	// Given: two documents for one owner and one for another
	app := newTestServer(t).App()
	doc := ingestDoc(t, app, "alice", "geo", "Paris is the capital of France.")
	ingestDoc(t, app, "alice", "food", "Croissants are baked with butter.")
	ingestDoc(t, app, "bob", "bob-geo", "Paris is lovely in spring.")
	assert.Equal(t, "ready", doc.Status)
	assert.GreaterOrEqual(t, doc.ChunkCount, 1)

	// When: alice searches
	topK := 5
	status, raw := doJSON(t, app, http.MethodPost, "/api/v1/search", SearchRequest{
		Query: "capital of France", OwnerID: "alice", TopK: &topK,
	})

	// Then: her matching document ranks first, with a citation, and bob's never appears
	require.Equal(t, http.StatusOK, status, string(raw))
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "geo", resp.Results[0].DocumentID)
	assert.Equal(t, "geo.md", resp.Results[0].DocumentName)
	require.NotNil(t, resp.Results[0].Citation)
	assert.NotEmpty(t, resp.Results[0].Citation.Highlights)
	assert.Len(t, resp.Citations, len(resp.Results))
	assert.Equal(t, len(resp.Results), resp.Total)
	for _, r := range resp.Results {
		assert.NotEqual(t, "bob-geo", r.DocumentID)
	}
}

func TestServer_LexicalAndVectorEndpoints(t *testing.T) {
	app := newTestServer(t).App()
	ingestDoc(t, app, "alice", "geo", "Paris is the capital of France.")

	status, raw := doJSON(t, app, http.MethodPost, "/api/v1/search/lexical", SearchRequest{Query: "capital", OwnerID: "alice"})
	require.Equal(t, http.StatusOK, status, string(raw))
	var lexical SearchResponse
	require.NoError(t, json.Unmarshal(raw, &lexical))
	require.NotEmpty(t, lexical.Results)
	assert.NotNil(t, lexical.Results[0].BM25Score)
	assert.Nil(t, lexical.Results[0].VectorScore)
	assert.False(t, lexical.Reranked)

	status, raw = doJSON(t, app, http.MethodPost, "/api/v1/search/vector", SearchRequest{Query: "capital", OwnerID: "alice"})
	require.Equal(t, http.StatusOK, status, string(raw))
	var vector SearchResponse
	require.NoError(t, json.Unmarshal(raw, &vector))
	require.NotEmpty(t, vector.Results)
	assert.NotNil(t, vector.Results[0].VectorScore)
	assert.Nil(t, vector.Results[0].BM25Score)
}

func TestServer_SearchValidation(t *testing.T) {
	app := newTestServer(t).App()
	alphaHigh := 1.5
	topKHigh := 500

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantField  string
		wantCode   string
	}{
		{"malformed json", `{"query":`, http.StatusBadRequest, "", ""},
		{"missing fields", SearchRequest{}, http.StatusUnprocessableEntity, "query", ""},
		{"missing owner", SearchRequest{Query: "q"}, http.StatusUnprocessableEntity, "owner_id", ""},
		{"top_k too large", SearchRequest{Query: "q", OwnerID: "o", TopK: &topKHigh}, http.StatusUnprocessableEntity, "top_k", ""},
		{"top_k zero", `{"query":"q","owner_id":"o","top_k":0}`, http.StatusUnprocessableEntity, "top_k", ""},
		{"top_k negative", `{"query":"q","owner_id":"o","top_k":-3}`, http.StatusUnprocessableEntity, "top_k", ""},
		{"alpha out of range", SearchRequest{Query: "q", OwnerID: "o", Alpha: &alphaHigh}, http.StatusUnprocessableEntity, "alpha", ""},
		{"unknown mode", SearchRequest{Query: "q", OwnerID: "o", Mode: "fuzzy"}, http.StatusUnprocessableEntity, "mode", ""},
		{"blank query", SearchRequest{Query: "   ", OwnerID: "o"}, http.StatusBadRequest, "", amanerrors.ErrCodeQueryEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := doJSON(t, app, http.MethodPost, "/api/v1/search", tt.body)

			assert.Equal(t, tt.wantStatus, status, string(raw))
			if tt.wantField != "" {
				var ve ValidationError
				require.NoError(t, json.Unmarshal(raw, &ve))
				assert.Contains(t, ve.Errors, tt.wantField)
			}
			if tt.wantCode != "" {
				var e Error
				require.NoError(t, json.Unmarshal(raw, &e))
				assert.Equal(t, tt.wantCode, e.Code)
			}
		})
	}
}

func TestServer_Citations(t *testing.T) {
	// Given: a document and the id of its first chunk
	app := newTestServer(t).App()
	ingestDoc(t, app, "alice", "geo", "Paris is the capital of France.")
	chunkID := ingest.ChunkID("geo", 0)

	// When/Then: the citation resolves for its owner
	status, raw := doJSON(t, app, http.MethodGet, "/api/v1/citations/"+chunkID+"?owner_id=alice&context_size=2", nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	var detail search.CitationDetail
	require.NoError(t, json.Unmarshal(raw, &detail))
	assert.Equal(t, chunkID, detail.ChunkID)
	assert.Equal(t, "geo", detail.DocumentID)
	assert.Equal(t, 0, detail.Sequence)

	// and is hidden from another owner
	status, _ = doJSON(t, app, http.MethodGet, "/api/v1/citations/"+chunkID+"?owner_id=bob", nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Unknown ids are 404, out-of-range context is 422
	status, _ = doJSON(t, app, http.MethodGet, "/api/v1/citations/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = doJSON(t, app, http.MethodGet, "/api/v1/citations/"+chunkID+"?context_size=9", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	// Batch lookups skip unknown ids
	status, raw = doJSON(t, app, http.MethodPost, "/api/v1/citations/batch", CitationBatchRequest{
		ChunkIDs: []string{chunkID, "nope"},
	})
	require.Equal(t, http.StatusOK, status, string(raw))
	var details []search.CitationDetail
	require.NoError(t, json.Unmarshal(raw, &details))
	require.Len(t, details, 1)
	assert.Equal(t, chunkID, details[0].ChunkID)

	status, _ = doJSON(t, app, http.MethodPost, "/api/v1/citations/batch", CitationBatchRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestServer_DocumentLifecycle(t *testing.T) {
	app := newTestServer(t).App()
	doc := ingestDoc(t, app, "alice", "geo", "Paris is the capital of France.")

	status, raw := doJSON(t, app, http.MethodGet, "/api/v1/documents/geo", nil)
	require.Equal(t, http.StatusOK, status)
	var got DocumentResponse
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "ready", got.Status)
	assert.Equal(t, "alice", got.OwnerID)

	status, raw = doJSON(t, app, http.MethodDelete, "/api/v1/documents/geo", nil)
	require.Equal(t, http.StatusOK, status)
	var del DeleteResponse
	require.NoError(t, json.Unmarshal(raw, &del))
	assert.Equal(t, doc.ChunkCount, del.Deleted)

	status, _ = doJSON(t, app, http.MethodGet, "/api/v1/documents/geo", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = doJSON(t, app, http.MethodDelete, "/api/v1/documents/geo", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_DeleteOwner(t *testing.T) {
	app := newTestServer(t).App()
	a := ingestDoc(t, app, "alice", "a", "Paris is the capital of France.")
	b := ingestDoc(t, app, "alice", "b", "Berlin is the capital of Germany.")
	ingestDoc(t, app, "bob", "c", "Rome is the capital of Italy.")

	status, raw := doJSON(t, app, http.MethodDelete, "/api/v1/owners/alice", nil)
	require.Equal(t, http.StatusOK, status)
	var del DeleteResponse
	require.NoError(t, json.Unmarshal(raw, &del))
	assert.Equal(t, a.ChunkCount+b.ChunkCount, del.Deleted)

	status, raw = doJSON(t, app, http.MethodPost, "/api/v1/search", SearchRequest{Query: "capital", OwnerID: "alice"})
	require.Equal(t, http.StatusOK, status)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Empty(t, resp.Results)

	status, _ = doJSON(t, app, http.MethodGet, "/api/v1/documents/c", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_IngestFailureReportsStatus(t *testing.T) {
	// Given: text that chunks to nothing
	app := newTestServer(t).App()

	// When: it is ingested
	status, raw := doJSON(t, app, http.MethodPost, "/api/v1/documents", IngestRequest{
		DocumentID: "blank", OwnerID: "alice", Text: "   \n\n  ",
	})

	// Then: the document is reported in status error with the reason
	require.Equal(t, http.StatusUnprocessableEntity, status, string(raw))
	var doc DocumentResponse
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "error", doc.Status)
	assert.Equal(t, ingest.ErrNoContent, doc.ErrorMessage)
	assert.Equal(t, 0, doc.ChunkCount)
}

func TestServer_IngestValidation(t *testing.T) {
	app := newTestServer(t).App()
	ingestDoc(t, app, "alice", "geo", "Paris is the capital of France.")

	status, raw := doJSON(t, app, http.MethodPost, "/api/v1/documents", IngestRequest{OwnerID: "alice"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	var ve ValidationError
	require.NoError(t, json.Unmarshal(raw, &ve))
	assert.Contains(t, ve.Errors, "document_id")
	assert.Contains(t, ve.Errors, "text")

	status, _ = doJSON(t, app, http.MethodPost, "/api/v1/documents", IngestRequest{
		DocumentID: "x", OwnerID: "alice", Text: "hello", Strategy: "zigzag",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	// Re-ingesting another owner's document id is rejected
	status, _ = doJSON(t, app, http.MethodPost, "/api/v1/documents", IngestRequest{
		DocumentID: "geo", OwnerID: "mallory", Text: "hello",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_Stats(t *testing.T) {
	app := newTestServer(t).App()
	doc := ingestDoc(t, app, "alice", "geo", "Paris is the capital of France.")
	status, _ := doJSON(t, app, http.MethodPost, "/api/v1/search", SearchRequest{Query: "capital", OwnerID: "alice"})
	require.Equal(t, http.StatusOK, status)

	status, raw := doJSON(t, app, http.MethodGet, "/api/v1/stats?owner_id=alice", nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, doc.ChunkCount, stats.Vectors)
	assert.Equal(t, testDims, stats.Dimensions)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Ready)
	assert.Equal(t, "heuristic", stats.Reranker)
	require.NotNil(t, stats.Lexical)
	assert.Equal(t, doc.ChunkCount, stats.Lexical.Documents)
	require.NotNil(t, stats.Queries)
	assert.Equal(t, int64(1), stats.Queries.TotalQueries)

	status, raw = doJSON(t, app, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, status)
	stats = StatsResponse{}
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Nil(t, stats.Lexical)
}

// failingSearcher returns err from every call.
type failingSearcher struct{ err error }

func (f failingSearcher) Search(context.Context, search.Request) (*search.Response, error) {
	return nil, f.err
}

func (f failingSearcher) Citation(context.Context, string, string, bool, int) (*search.CitationDetail, error) {
	return nil, f.err
}

func (f failingSearcher) Stats(context.Context, string) (*search.Stats, error) {
	return nil, f.err
}

func TestServer_BackendErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"retrieval unavailable", amanerrors.New(amanerrors.ErrCodeRetrievalUnavailable, "all backends failed", nil), http.StatusServiceUnavailable},
		{"search failed", amanerrors.New(amanerrors.ErrCodeSearchFailed, "query embedding failed",
			amanerrors.New(amanerrors.ErrCodeEmbeddingFailed, "provider down", nil)), http.StatusBadGateway},
		{"out of range", amanerrors.OutOfRange("top_k", 0, 1, 100), http.StatusBadRequest},
		{"not found", amanerrors.NotFound("chunk", "x"), http.StatusNotFound},
		{"plain error", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewServer(":0", failingSearcher{err: tt.err}, nil, nil).App()

			status, raw := doJSON(t, app, http.MethodPost, "/api/v1/search", SearchRequest{Query: "q", OwnerID: "o"})

			assert.Equal(t, tt.want, status, string(raw))
			assert.Equal(t, tt.want, StatusFor(tt.err))
			var e Error
			require.NoError(t, json.Unmarshal(raw, &e))
			assert.Equal(t, tt.want, e.Status)
			assert.Equal(t, amanerrors.GetCode(tt.err), e.Code)
		})
	}
}
