package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCrossEncoderTimeout bounds one /rerank request.
const DefaultCrossEncoderTimeout = 10 * time.Second

// HTTPCrossEncoderConfig configures an HTTPCrossEncoder.
type HTTPCrossEncoderConfig struct {
	Endpoint string // base URL, e.g. http://localhost:8081
	Model    string // informational
	Timeout  time.Duration

	// RequestsPerSecond throttles calls; 0 disables throttling.
	RequestsPerSecond float64
}

// HTTPCrossEncoder scores passages with a text-embeddings-inference style
// /rerank endpoint: POST {query, texts} returning [{index, score}].
type HTTPCrossEncoder struct {
	endpoint string
	model    string
	client   *http.Client
	limiter  *rate.Limiter
}

var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

type rerankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewHTTPCrossEncoder creates a client. It does not contact the endpoint.
func NewHTTPCrossEncoder(cfg HTTPCrossEncoderConfig) (*HTTPCrossEncoder, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("cross-encoder endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCrossEncoderTimeout
	}

	c := &HTTPCrossEncoder{
		endpoint: endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Name returns the configured model name, or the endpoint when unset.
func (c *HTTPCrossEncoder) Name() string {
	if c.model != "" {
		return c.model
	}
	return c.endpoint
}

// Healthy reports whether the endpoint answers GET /health.
func (c *HTTPCrossEncoder) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Score returns one score per passage in input order.
func (c *HTTPCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return []float64{}, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: passages, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var ranked []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&ranked); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	scores := make([]float64, len(passages))
	filled := make([]bool, len(passages))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(passages) {
			return nil, fmt.Errorf("rerank response index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
		filled[r.Index] = true
	}
	for i, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("rerank response missing score for passage %d", i)
		}
	}

	slog.Debug("cross_encoder_scored",
		slog.String("model", c.Name()),
		slog.Int("passages", len(passages)),
		slog.Duration("duration", time.Since(start)))
	return scores, nil
}

// NewReranker resolves the rerank strategy once: a reachable cross-encoder
// endpoint selects the model strategy, anything else the heuristic.
func NewReranker(ctx context.Context, provider string, cfg HTTPCrossEncoderConfig, opts ...RerankerOption) *Reranker {
	fallback := NewHeuristicReranker(opts...)
	logger := fallback.logger

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", string(RerankHeuristic):
		return fallback
	case "http":
	default:
		logger.Warn("rerank_provider_unknown", slog.String("provider", provider))
		return fallback
	}

	encoder, err := NewHTTPCrossEncoder(cfg)
	if err != nil {
		logger.Warn("rerank_model_unavailable", slog.String("error", err.Error()))
		return fallback
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !encoder.Healthy(checkCtx) {
		logger.Warn("rerank_model_unavailable",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("fallback", string(RerankHeuristic)))
		return fallback
	}
	return NewModelReranker(encoder, opts...)
}
