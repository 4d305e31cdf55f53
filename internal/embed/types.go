// Package embed provides the embedding providers used at ingest and query time.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MaxBatchSize caps one provider request.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds one provider request.
	DefaultTimeout = 60 * time.Second

	// DefaultDimensions is the dimension of the static embedder and the
	// default vector store dimension.
	DefaultDimensions = 384
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// checkBatch verifies a provider returned one vector of the expected size per input.
func checkBatch(vectors [][]float32, want, dims int) error {
	if len(vectors) != want {
		return &BatchSizeError{Expected: want, Got: len(vectors)}
	}
	if dims <= 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != dims {
			return &DimensionError{Expected: dims, Got: len(v)}
		}
	}
	return nil
}
