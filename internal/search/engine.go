package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// ScopeSource returns the BM25 index of an owner.
type ScopeSource interface {
	Get(ctx context.Context, ownerID string) (*store.BM25Index, error)
}

// Engine is the search orchestrator: embed, retrieve both sides
// concurrently, fuse, rerank and attach citations.
type Engine struct {
	scopes    ScopeSource
	vectors   store.VectorStore
	corpus    store.CorpusStore
	embedder  embed.Embedder
	reranker  *Reranker
	citations *CitationBuilder
	tokenizer store.Tokenizer
	config    EngineConfig
	metrics   *telemetry.QueryMetrics
	logger    *slog.Logger

	// One breaker per retrieval side so a dead backend fails fast.
	lexicalBreaker *amanerrors.CircuitBreaker
	vectorBreaker  *amanerrors.CircuitBreaker
}

// NewEngine creates a search engine over the given stores.
func NewEngine(
	scopes ScopeSource,
	vectors store.VectorStore,
	corpus store.CorpusStore,
	embedder embed.Embedder,
	opts ...EngineOption,
) (*Engine, error) {
	if scopes == nil {
		return nil, fmt.Errorf("lexical scopes are required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if corpus == nil {
		return nil, fmt.Errorf("corpus store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	e := &Engine{
		scopes:   scopes,
		vectors:  vectors,
		corpus:   corpus,
		embedder: embedder,
		config:   DefaultEngineConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tokenizer == nil {
		e.tokenizer = defaultTokenizer()
	}
	if e.reranker == nil {
		e.reranker = NewHeuristicReranker(WithRerankTokenizer(e.tokenizer), WithRerankLogger(e.logger))
	}
	e.citations = NewCitationBuilder(corpus, e.tokenizer)

	reset := 30 * time.Second
	e.lexicalBreaker = amanerrors.NewCircuitBreaker("lexical", amanerrors.WithResetTimeout(reset))
	e.vectorBreaker = amanerrors.NewCircuitBreaker("vector", amanerrors.WithResetTimeout(reset))
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Search runs one query. Invalid input is rejected before any backend call.
// A failing retrieval side degrades to empty results unless every queried
// side failed; a failed query embedding fails the search.
func (e *Engine) Search(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()

	req, alpha, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	var degraded []string
	if e.metrics != nil {
		defer func() {
			ev := telemetry.QueryEvent{
				OwnerID:  req.OwnerID,
				Query:    req.Query,
				Mode:     string(req.Mode),
				Latency:  time.Since(start),
				Degraded: degraded,
				Failed:   err != nil,
			}
			if resp != nil {
				ev.ResultCount = resp.Total
				ev.Reranked = resp.Reranked
			}
			e.metrics.Record(ev)
		}()
	}

	if e.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RequestTimeout)
		defer cancel()
	}

	useLexical := req.Mode == ModeLexicalOnly || (req.Mode == ModeHybrid && alpha < 1)
	useVector := req.Mode == ModeVectorOnly || (req.Mode == ModeHybrid && alpha > 0)

	pool := req.TopK
	if req.Mode == ModeHybrid {
		pool = max(req.TopK, req.TopK*e.config.RerankCandidates)
	}

	// Embedding
	var queryVec []float32
	if useVector {
		queryVec, err = e.embedder.Embed(ctx, req.Query)
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "query embedding failed",
				amanerrors.New(amanerrors.ErrCodeEmbeddingFailed, err.Error(), err))
		}
	}

	// Retrieving
	lexical, vector, degraded, err := e.retrieve(ctx, req, queryVec, pool, useLexical, useVector)
	if err != nil {
		return nil, err
	}

	// Fusing
	var results []*Result
	switch {
	case req.Mode == ModeLexicalOnly:
		results = Passthrough(lexical, true)
	case req.Mode == ModeVectorOnly:
		results = Passthrough(vector, false)
	case len(lexical) > 0 && len(vector) > 0:
		results = Fuse(lexical, vector, alpha, e.config.RRFConstant)
	case len(lexical) > 0:
		results = Passthrough(lexical, true)
	default:
		results = Passthrough(vector, false)
	}

	results, err = e.hydrate(ctx, req.OwnerID, results)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to load result chunks", err)
	}

	// Reranking
	reranked := false
	if req.Rerank && req.Mode == ModeHybrid && len(results) > 0 {
		results = e.reranker.Rerank(ctx, req.Query, results, req.TopK)
		reranked = len(results) > 0 && results[0].RerankScore != nil
	}
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	// Enriching
	citations := make([]*Citation, len(results))
	for i, r := range results {
		r.Citation = e.citations.Build(r, req.Query)
		citations[i] = r.Citation
	}

	elapsed := time.Since(start)
	e.logger.Debug("search_completed",
		slog.String("owner_id", req.OwnerID),
		slog.String("mode", string(req.Mode)),
		slog.Float64("alpha", alpha),
		slog.Int("lexical_hits", len(lexical)),
		slog.Int("vector_hits", len(vector)),
		slog.Int("results", len(results)),
		slog.Bool("reranked", reranked),
		slog.Duration("elapsed", elapsed))

	return &Response{
		Query:     req.Query,
		Results:   results,
		Citations: citations,
		Total:     len(results),
		ElapsedMS: float64(elapsed.Microseconds()) / 1000,
		Reranked:  reranked,
	}, nil
}

// validate applies defaults and rejects out-of-range input.
func (e *Engine) validate(req Request) (Request, float64, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, 0, amanerrors.New(amanerrors.ErrCodeQueryEmpty, "query must not be empty", nil).
			WithDetail("field", "query")
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return req, 0, amanerrors.InvalidInput("owner_id", "owner id is required")
	}

	if req.TopK == 0 {
		req.TopK = e.config.DefaultTopK
	}
	if req.TopK < 1 || req.TopK > e.config.MaxTopK {
		return req, 0, amanerrors.OutOfRange("top_k", req.TopK, 1, e.config.MaxTopK)
	}

	alpha := e.config.Alpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return req, 0, amanerrors.OutOfRange("alpha", alpha, 0, 1)
	}

	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return req, 0, amanerrors.InvalidInput("mode", err.Error())
	}
	req.Mode = mode
	return req, alpha, nil
}

// retrieve runs the requested sides concurrently, each under its own
// timeout and circuit breaker. A failed side is logged, named in degraded,
// and yields nothing.
func (e *Engine) retrieve(
	ctx context.Context,
	req Request,
	queryVec []float32,
	pool int,
	useLexical, useVector bool,
) (lexical, vector []Ranked, degraded []string, err error) {
	var lexErr, vecErr error
	g, gctx := errgroup.WithContext(ctx)

	if useLexical {
		g.Go(func() error {
			lexical, lexErr = amanerrors.Execute(e.lexicalBreaker, func() ([]Ranked, error) {
				return callWithTimeout(gctx, e.config.BackendTimeout, func(ctx context.Context) ([]Ranked, error) {
					idx, err := e.scopes.Get(ctx, req.OwnerID)
					if err != nil {
						return nil, err
					}
					return FromLexical(idx.Search(req.Query, pool, req.DocumentIDs)), nil
				})
			})
			return nil
		})
	}

	if useVector {
		g.Go(func() error {
			vector, vecErr = amanerrors.Execute(e.vectorBreaker, func() ([]Ranked, error) {
				return callWithTimeout(gctx, e.config.BackendTimeout, func(ctx context.Context) ([]Ranked, error) {
					hits, err := e.vectors.Search(ctx, queryVec, pool, store.Filter{
						OwnerID:     req.OwnerID,
						DocumentIDs: req.DocumentIDs,
					})
					if err != nil {
						return nil, err
					}
					return FromVector(hits), nil
				})
			})
			return nil
		})
	}

	_ = g.Wait()

	if lexErr != nil {
		e.logBackendDegraded("lexical", req.OwnerID, lexErr)
		degraded = append(degraded, "lexical")
		lexical = nil
	}
	if vecErr != nil {
		e.logBackendDegraded("vector", req.OwnerID, vecErr)
		degraded = append(degraded, "vector")
		vector = nil
	}

	lexicalDown := !useLexical || lexErr != nil
	vectorDown := !useVector || vecErr != nil
	if lexicalDown && vectorDown {
		return nil, nil, degraded, amanerrors.New(amanerrors.ErrCodeRetrievalUnavailable,
			"all retrieval backends are unavailable", errors.Join(lexErr, vecErr))
	}
	return lexical, vector, degraded, nil
}

func (e *Engine) logBackendDegraded(backend, ownerID string, err error) {
	e.logger.Warn("search_backend_degraded",
		slog.String("backend", backend),
		slog.String("owner_id", ownerID),
		slog.String("error", err.Error()))
}

// hydrate loads chunk text and document names for results, dropping chunks
// that are gone, belong to another owner, or whose document is not ready.
func (e *Engine) hydrate(ctx context.Context, ownerID string, results []*Result) ([]*Result, error) {
	if len(results) == 0 {
		return results, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	chunks, err := e.corpus.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	docs := make(map[string]*store.Document)
	out := make([]*Result, 0, len(results))
	for _, r := range results {
		c, ok := byID[r.ChunkID]
		if !ok || c.OwnerID != ownerID {
			continue
		}

		doc, seen := docs[c.DocumentID]
		if !seen {
			doc, err = e.corpus.GetDocument(ctx, c.DocumentID)
			if err != nil {
				if amanerrors.GetCode(err) != amanerrors.ErrCodeNotFound {
					return nil, err
				}
				doc = nil
			}
			docs[c.DocumentID] = doc
		}
		if doc == nil || doc.Status != store.StatusReady {
			continue
		}

		r.DocumentID = c.DocumentID
		r.DocumentName = documentName(doc)
		r.Content = c.Content
		r.Sequence = c.Sequence
		r.Page = c.Page
		r.Section = c.Section
		r.Metadata = c.Metadata
		out = append(out, r)
	}
	return out, nil
}

// Citation resolves one citation. ownerID, when set, must own the chunk.
func (e *Engine) Citation(ctx context.Context, chunkID, ownerID string, includeContext bool, contextSize int) (*CitationDetail, error) {
	return e.citations.Detail(ctx, chunkID, ownerID, includeContext, contextSize)
}

// Citations resolves several citations without context, skipping unknown ids.
func (e *Engine) Citations(ctx context.Context, chunkIDs []string, ownerID string) ([]*CitationDetail, error) {
	return e.citations.Details(ctx, chunkIDs, ownerID)
}

// Stats reports vector store statistics and, for an owner, their lexical
// index and document counts.
func (e *Engine) Stats(ctx context.Context, ownerID string) (*Stats, error) {
	vs, err := e.vectors.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get vector stats: %w", err)
	}
	stats := &Stats{Vector: vs, Reranker: e.reranker.Name()}
	if e.metrics != nil {
		stats.Queries = e.metrics.Snapshot()
	}
	if ownerID == "" {
		return stats, nil
	}

	idx, err := e.scopes.Get(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lexical index: %w", err)
	}
	ls := idx.Stats()
	stats.Lexical = &ls

	docs, err := e.corpus.ListDocuments(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	stats.Documents = len(docs)
	for _, d := range docs {
		if d.Status == store.StatusReady {
			stats.Ready++
		}
		stats.Chunks += d.ChunkCount
	}
	return stats, nil
}

// callWithTimeout runs fn under a timeout and returns as soon as the
// deadline passes, even if fn ignores its context.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
