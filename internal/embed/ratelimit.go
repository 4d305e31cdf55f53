package embed

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder throttles provider calls with a token bucket.
// One batch request costs one token.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

var _ Embedder = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder allows requestsPerSecond calls with the given burst.
// burst <= 0 selects 1.
func NewRateLimitedEmbedder(inner Embedder, requestsPerSecond float64, burst int) *RateLimitedEmbedder {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.inner.Embed(ctx, text)
}

func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.inner.EmbedBatch(ctx, texts)
}

func (r *RateLimitedEmbedder) Dimensions() int { return r.inner.Dimensions() }

func (r *RateLimitedEmbedder) ModelName() string { return r.inner.ModelName() }

func (r *RateLimitedEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

func (r *RateLimitedEmbedder) Close() error { return r.inner.Close() }
