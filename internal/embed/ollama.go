package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a small general-purpose text embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the startup health check.
	OllamaConnectTimeout = 30 * time.Second
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 detects from a sample embedding
	BatchSize  int
	Timeout    time.Duration // per request

	// SkipHealthCheck skips the model lookup and dimension check.
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns defaults for a local Ollama.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:      DefaultOllamaHost,
		Model:     DefaultOllamaModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder generates embeddings with Ollama's /api/embed.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to Ollama, checks the model is installed and
// detects the embedding dimension unless cfg.Dimensions is set.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	defaults := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = defaults.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	// No client-level timeout: each request carries its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
		defer cancel()

		if err := e.checkModel(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to connect to Ollama or find model: %w", err)
		}
		if e.dims == 0 {
			vecs, err := e.doEmbed(checkCtx, []string{"dimension check"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
			}
			e.dims = len(vecs[0])
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", cfg.Model),
		slog.Int("dimensions", e.dims))
	return e, nil
}

// checkModel verifies the configured model is installed, with or without a tag.
func (e *OllamaEmbedder) checkModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	want := strings.ToLower(e.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return nil
		}
	}
	return fmt.Errorf("model %s is not installed (run: ollama pull %s)", e.config.Model, e.config.Model)
}

// Embed generates the embedding of a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in provider batches. Blank texts embed to the zero vector.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var (
		idx     []int
		pending []string
	)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		idx = append(idx, i)
		pending = append(pending, text)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(pending))

		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		vecs, err := e.doEmbed(reqCtx, pending[start:end])
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		if err := checkBatch(vecs, end-start, e.dims); err != nil {
			return nil, err
		}
		for j, v := range vecs {
			results[idx[start+j]] = v
		}
	}
	return results, nil
}

// doEmbed performs one /api/embed request and returns normalized vectors.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }

func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

// Available checks Ollama is reachable and the model is installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	return !closed && e.checkModel(ctx) == nil
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
