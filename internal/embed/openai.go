package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	BaseURL    string // empty uses api.openai.com
	APIKey     string // "none" is sent to local services that need no key
	Model      string
	Dimensions int
	BatchSize  int
}

// OpenAIEmbedder generates embeddings through any OpenAI-compatible API.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	model    string
	dims     int
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates the embedder. Dimensions must be set since the
// API is not contacted at construction.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder requires dimensions")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "none"
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &OpenAIEmbedder{
		embedder: embedder,
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

// Embed generates the embedding of a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts and normalizes the results.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.logger.Debug("openai_embed_batch", slog.Int("count", len(texts)))
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if err := checkBatch(vecs, len(texts), e.dims); err != nil {
		return nil, err
	}
	for i, v := range vecs {
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Available reports whether the embedder is open. The API is not contacted.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
