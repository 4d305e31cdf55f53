package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings by feature hashing.
// Works without external dependencies (no network, no model download).
// Deterministic and fast, with reduced semantic quality: texts that share
// words and character trigrams land close together.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// stopWords are frequent function words that carry no topic signal.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "with": true,
}

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// NewStaticEmbedder creates a static embedder. dims <= 0 selects DefaultDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates the embedding of a single text. Blank text embeds to the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	return e.embed(text), nil
}

func (e *StaticEmbedder) embed(text string) []float32 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims)
	}

	vector := make([]float32, e.dims)
	for _, word := range words(trimmed) {
		if stopWords[word] {
			continue
		}
		vector[hashToIndex(word, e.dims)] += tokenWeight
	}
	for _, gram := range runeNgrams(foldText(trimmed), ngramSize) {
		vector[hashToIndex(gram, e.dims)] += ngramWeight
	}
	return normalizeVector(vector)
}

// words splits text into lower-cased runs of letters and digits.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// foldText lower-cases text and keeps only letters and digits.
func foldText(text string) []rune {
	out := make([]rune, 0, len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

// runeNgrams extracts n-rune sliding windows. Shorter text yields itself.
func runeNgrams(runes []rune, n int) []string {
	if len(runes) == 0 {
		return []string{}
	}
	if len(runes) < n {
		return []string{string(runes)}
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch embeds texts in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = e.embed(text)
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available reports whether the embedder is open.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
