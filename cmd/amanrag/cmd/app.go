package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// app holds every component of an open data directory.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	lock        *store.DataDirLock
	corpus      store.CorpusStore
	vectors     store.VectorStore
	scopes      *store.ScopeRegistry
	embedder    embed.Embedder
	engine      *search.Engine
	coordinator *ingest.Coordinator
}

// openApp locks the data directory and wires the stores, embedder, engine
// and ingest coordinator. progress may be nil. Close must be called.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, progress ingest.ProgressFunc) (a *app, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	a = &app{cfg: cfg, logger: logger, lock: store.NewDataDirLock(cfg.DataDir)}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	acquired, err := a.lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, amanerrors.New(amanerrors.ErrCodeBackendUnavailable,
			fmt.Sprintf("data directory %s is in use by another amanrag process", cfg.DataDir), nil).
			WithSuggestion("stop the other process or point --dir at another project")
	}

	a.corpus, err = store.NewCorpusStore(cfg.Corpus.Backend, cfg.DataDir, cfg.Corpus.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus store: %w", err)
	}

	a.embedder, err = embed.NewEmbedder(ctx, embed.Config{
		Provider:          cfg.Embeddings.Provider,
		Model:             cfg.Embeddings.Model,
		Host:              cfg.Embeddings.Host,
		APIKey:            cfg.Embeddings.APIKey,
		Dimensions:        cfg.Embeddings.Dimensions,
		BatchSize:         cfg.Embeddings.BatchSize,
		CacheSize:         cfg.Embeddings.CacheSize,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	dims := cfg.Vector.Dimensions
	if dims <= 0 {
		dims = a.embedder.Dimensions()
	}
	a.vectors, err = store.NewVectorStore(ctx, cfg.DataDir, store.VectorOptions{
		Backend:     cfg.Vector.Backend,
		Dimensions:  dims,
		M:           cfg.Vector.M,
		EfSearch:    cfg.Vector.EfSearch,
		PostgresDSN: cfg.Vector.PostgresDSN,
		SQLitePath:  cfg.Vector.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	tokenizer, err := store.NewTokenizer(cfg.Lexical.MinTokenLength)
	if err != nil {
		return nil, err
	}
	a.scopes, err = store.NewScopeRegistry(a.corpus,
		store.BM25Params{K1: cfg.Lexical.K1, B: cfg.Lexical.B},
		tokenizer, cfg.Lexical.MaxWarmScopes)
	if err != nil {
		return nil, err
	}

	reranker := search.NewReranker(ctx, cfg.Rerank.Provider, search.HTTPCrossEncoderConfig{
		Endpoint:          cfg.Rerank.Endpoint,
		Model:             cfg.Rerank.Model,
		Timeout:           cfg.Rerank.TimeoutDuration(),
		RequestsPerSecond: cfg.Rerank.RequestsPerSecond,
	}, search.WithRerankTokenizer(tokenizer), search.WithRerankLogger(logger))

	a.engine, err = search.NewEngine(a.scopes, a.vectors, a.corpus, a.embedder,
		search.WithEngineConfig(search.EngineConfigFrom(cfg.Search)),
		search.WithReranker(reranker),
		search.WithTokenizer(tokenizer),
		search.WithLogger(logger),
		search.WithMetrics(telemetry.NewQueryMetrics(telemetry.DefaultConfig())))
	if err != nil {
		return nil, err
	}

	ingestOpts, err := ingest.OptionsFrom(cfg)
	if err != nil {
		return nil, err
	}
	coordOpts := []ingest.Option{ingest.WithOptions(ingestOpts), ingest.WithLogger(logger)}
	if progress != nil {
		coordOpts = append(coordOpts, ingest.WithProgress(progress))
	}
	a.coordinator, err = ingest.NewCoordinator(a.corpus, a.vectors, a.scopes, a.embedder, coordOpts...)
	if err != nil {
		return nil, err
	}

	logger.Debug("app_opened",
		slog.String("data_dir", cfg.DataDir),
		slog.String("vector_backend", cfg.Vector.Backend),
		slog.String("corpus_backend", cfg.Corpus.Backend),
		slog.String("embedder", a.embedder.ModelName()),
		slog.String("reranker", reranker.Name()))
	return a, nil
}

// Close releases components in reverse order of creation. The vector store
// persists its snapshot on close.
func (a *app) Close() error {
	var errs []error
	if a.coordinator != nil {
		a.coordinator.Close()
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.corpus != nil {
		errs = append(errs, a.corpus.Close())
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
	}
	return errors.Join(errs...)
}
