package search

import (
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// EngineConfig holds query-time defaults and limits.
type EngineConfig struct {
	DefaultTopK int
	MaxTopK     int
	Alpha       float64
	RRFConstant int

	// RerankCandidates multiplies top_k to size each side's candidate pool
	// in hybrid mode.
	RerankCandidates int

	// BackendTimeout bounds each retrieval side; RequestTimeout the whole search.
	BackendTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultEngineConfig returns the defaults used when no configuration is given.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultTopK:      10,
		MaxTopK:          100,
		Alpha:            0.5,
		RRFConstant:      DefaultRRFConstant,
		RerankCandidates: 3,
		BackendTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
	}
}

// EngineConfigFrom converts the search section of the configuration.
func EngineConfigFrom(cfg config.SearchConfig) EngineConfig {
	ec := DefaultEngineConfig()
	if cfg.DefaultTopK > 0 {
		ec.DefaultTopK = cfg.DefaultTopK
	}
	if cfg.MaxTopK > 0 {
		ec.MaxTopK = cfg.MaxTopK
	}
	ec.Alpha = cfg.Alpha
	if cfg.RRFConstant > 0 {
		ec.RRFConstant = cfg.RRFConstant
	}
	if cfg.RerankCandidates > 0 {
		ec.RerankCandidates = cfg.RerankCandidates
	}
	if d := cfg.BackendTimeoutDuration(); d > 0 {
		ec.BackendTimeout = d
	}
	if d := cfg.RequestTimeoutDuration(); d > 0 {
		ec.RequestTimeout = d
	}
	return ec
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineConfig overrides the default engine configuration.
func WithEngineConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithReranker sets the reranker used when a request asks for reranking.
// Without one, a heuristic reranker is used.
func WithReranker(r *Reranker) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.reranker = r
		}
	}
}

// WithTokenizer sets the tokenizer used for highlights and heuristic reranking.
func WithTokenizer(t store.Tokenizer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tokenizer = t
		}
	}
}

// WithMetrics records every validated search in m.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
