package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderStatic uses feature hashing; no network or model.
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses any OpenAI-compatible embeddings API.
	ProviderOpenAI ProviderType = "openai"
)

// Config selects and configures a provider and its wrappers.
type Config struct {
	Provider          string
	Model             string
	Host              string
	APIKey            string
	Dimensions        int
	BatchSize         int
	CacheSize         int     // < 0 disables the cache
	RequestsPerSecond float64 // 0 disables rate limiting
}

// ParseProvider converts a string to ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "static":
		return ProviderStatic, nil
	case "ollama":
		return ProviderOllama, nil
	case "openai":
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("unknown embeddings provider %q (valid options: %s)", s, strings.Join(ValidProviders(), ", "))
	}
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderStatic), string(ProviderOllama), string(ProviderOpenAI)}
}

// NewEmbedder creates the configured provider, wrapped with a rate limiter
// when RequestsPerSecond > 0 and a query cache unless CacheSize < 0.
// The cache sits outside the limiter so cache hits are never throttled.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var embedder Embedder
	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)

	case ProviderOllama:
		embedder, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or use the static provider: embeddings.provider: static", err)
		}

	case ProviderOpenAI:
		embedder, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.Host,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Dimensions > 0 && embedder.Dimensions() != cfg.Dimensions {
		_ = embedder.Close()
		return nil, &DimensionError{Expected: cfg.Dimensions, Got: embedder.Dimensions()}
	}

	if cfg.RequestsPerSecond > 0 {
		embedder = NewRateLimitedEmbedder(embedder, cfg.RequestsPerSecond, 1)
	}
	if cfg.CacheSize >= 0 {
		cached, err := NewCachedEmbedder(embedder, cfg.CacheSize)
		if err != nil {
			_ = embedder.Close()
			return nil, err
		}
		embedder = cached
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))
	return embedder, nil
}
