package embed

import "fmt"

// BatchSizeError reports a provider returning the wrong number of vectors.
type BatchSizeError struct {
	Expected int
	Got      int
}

func (e *BatchSizeError) Error() string {
	return fmt.Sprintf("provider returned %d embeddings for %d inputs", e.Got, e.Expected)
}

// DimensionError reports a provider returning vectors of an unexpected size.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
