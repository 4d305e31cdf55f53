package store

import (
	"math"
	"sort"
)

// normalized returns a unit-length copy of v. Zero vectors are returned as zeros.
func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	var sumSquares float64
	for _, val := range out {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return out
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// dot returns the inner product of two equal-length vectors.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// checkDimensions validates every chunk embedding against dims.
func checkDimensions(chunks []*Chunk, dims int) error {
	for _, c := range chunks {
		if len(c.Embedding) != dims {
			return ErrDimensionMismatch{Expected: dims, Got: len(c.Embedding)}
		}
	}
	return nil
}

// scoredVector is a candidate for brute-force ranking.
type scoredVector struct {
	hit   VectorHit
	order int
}

// rankTopK sorts candidates by score descending, ties by scan order, and keeps topK.
func rankTopK(cands []scoredVector, topK int) []VectorHit {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].hit.Score != cands[j].hit.Score {
			return cands[i].hit.Score > cands[j].hit.Score
		}
		return cands[i].order < cands[j].order
	})
	if topK > 0 && len(cands) > topK {
		cands = cands[:topK]
	}
	hits := make([]VectorHit, len(cands))
	for i, c := range cands {
		hits[i] = c.hit
	}
	return hits
}
