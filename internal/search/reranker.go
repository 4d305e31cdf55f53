package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Heuristic score weights.
const (
	heuristicFusedWeight    = 0.5
	heuristicMatchWeight    = 0.3
	heuristicPositionWeight = 0.2
)

// CrossEncoder scores (query, passage) pairs with an external model.
type CrossEncoder interface {
	// Score returns one relevance score per passage, in input order.
	Score(ctx context.Context, query string, passages []string) ([]float64, error)

	// Name identifies the model.
	Name() string
}

// RerankStrategy identifies how a Reranker scores candidates.
type RerankStrategy string

const (
	// RerankModel scores with a cross-encoder, falling back to the heuristic per call.
	RerankModel RerankStrategy = "model"

	// RerankHeuristic scores by query-term matches and positions.
	RerankHeuristic RerankStrategy = "heuristic"
)

// Reranker reorders fused candidates. The strategy is fixed at construction.
// Reranking never fails a search: model errors fall back to the heuristic.
type Reranker struct {
	strategy  RerankStrategy
	model     CrossEncoder
	breaker   *amanerrors.CircuitBreaker
	tokenizer store.Tokenizer
	logger    *slog.Logger
}

// RerankerOption configures a Reranker.
type RerankerOption func(*Reranker)

// WithRerankLogger sets the logger used for fallback warnings.
func WithRerankLogger(l *slog.Logger) RerankerOption {
	return func(r *Reranker) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRerankTokenizer sets the tokenizer used to extract query terms.
func WithRerankTokenizer(t store.Tokenizer) RerankerOption {
	return func(r *Reranker) {
		if t != nil {
			r.tokenizer = t
		}
	}
}

// NewModelReranker reranks with a cross-encoder.
func NewModelReranker(model CrossEncoder, opts ...RerankerOption) *Reranker {
	r := newReranker(RerankModel, opts...)
	r.model = model
	r.breaker = amanerrors.NewCircuitBreaker("cross-encoder",
		amanerrors.WithMaxFailures(3),
		amanerrors.WithResetTimeout(30*time.Second))
	return r
}

// NewHeuristicReranker reranks by lexical overlap with the query.
func NewHeuristicReranker(opts ...RerankerOption) *Reranker {
	return newReranker(RerankHeuristic, opts...)
}

func newReranker(strategy RerankStrategy, opts ...RerankerOption) *Reranker {
	r := &Reranker{
		strategy: strategy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tokenizer == nil {
		r.tokenizer = defaultTokenizer()
	}
	return r
}

// Strategy returns the strategy chosen at construction.
func (r *Reranker) Strategy() RerankStrategy {
	return r.strategy
}

// Name describes the reranker for stats output.
func (r *Reranker) Name() string {
	if r.strategy == RerankModel {
		return fmt.Sprintf("%s:%s", r.strategy, r.model.Name())
	}
	return string(r.strategy)
}

// Rerank sets RerankScore on every candidate, sorts by it and returns at most
// topK. topK <= 0 keeps all candidates. When the model fails the candidates
// keep their fused order and no RerankScore.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []*Result, topK int) []*Result {
	if len(candidates) == 0 {
		return candidates
	}

	var scores []float64
	if r.strategy == RerankModel {
		var err error
		scores, err = r.modelScores(ctx, query, candidates)
		if err != nil {
			r.logger.Warn("rerank_fallback",
				slog.String("model", r.model.Name()),
				slog.Int("candidates", len(candidates)),
				slog.String("error", err.Error()))
			return capResults(candidates, topK)
		}
	} else {
		scores = r.heuristicScores(query, candidates)
	}

	for i, c := range candidates {
		c.RerankScore = Float(scores[i])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].RerankScore > *candidates[j].RerankScore
	})
	return capResults(candidates, topK)
}

func capResults(results []*Result, topK int) []*Result {
	if topK > 0 && len(results) > topK {
		return results[:topK]
	}
	return results
}

func (r *Reranker) modelScores(ctx context.Context, query string, candidates []*Result) ([]float64, error) {
	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Content
	}

	scores, err := amanerrors.Execute(r.breaker, func() ([]float64, error) {
		return r.model.Score(ctx, query, passages)
	})
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeRerankFailed, "cross-encoder scoring failed", err)
	}
	if len(scores) != len(passages) {
		return nil, amanerrors.New(amanerrors.ErrCodeRerankFailed,
			fmt.Sprintf("cross-encoder returned %d scores for %d passages", len(scores), len(passages)), nil)
	}
	return scores, nil
}

// heuristicScores combines the fused score with how often and how early the
// query terms occur: 0.5·fused + 0.3·match + 0.2·position, where match is
// the occurrence count and position the sum of 1/(1+pos/100) for each
// term's first occurrence, both averaged over the distinct query terms.
func (r *Reranker) heuristicScores(query string, candidates []*Result) []float64 {
	terms := queryTerms(r.tokenizer, query)
	scores := make([]float64, len(candidates))

	for i, c := range candidates {
		content := lowerRunes(c.Content)

		var match, position float64
		for _, term := range terms {
			match += float64(countRunes(content, term))
			if pos := indexRunes(content, term, 0); pos >= 0 {
				position += 1.0 / (1 + float64(pos)/100)
			}
		}
		if len(terms) > 0 {
			match /= float64(len(terms))
			position /= float64(len(terms))
		}

		scores[i] = heuristicFusedWeight*c.Score +
			heuristicMatchWeight*match +
			heuristicPositionWeight*position
	}
	return scores
}

// queryTerms returns the distinct query tokens, lower-cased, as runes.
func queryTerms(tokenizer store.Tokenizer, query string) [][]rune {
	tokens := tokenizer.Tokenize(query)
	seen := make(map[string]struct{}, len(tokens))
	terms := make([][]rune, 0, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup || tok == "" {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, lowerRunes(tok))
	}
	return terms
}

// indexRunes returns the first index >= from of needle in haystack, or -1.
func indexRunes(haystack, needle []rune, from int) int {
	n := len(needle)
	if n == 0 {
		return -1
	}
	for i := from; i+n <= len(haystack); i++ {
		if haystack[i] != needle[0] {
			continue
		}
		match := true
		for j := 1; j < n; j++ {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// countRunes counts non-overlapping occurrences of needle.
func countRunes(haystack, needle []rune) int {
	count := 0
	for pos := indexRunes(haystack, needle, 0); pos >= 0; pos = indexRunes(haystack, needle, pos+len(needle)) {
		count++
	}
	return count
}
