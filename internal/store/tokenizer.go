package store

import (
	"fmt"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/token/length"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// TextAnalyzerName is the name of the analyzer used for BM25 terms.
	TextAnalyzerName = "amanrag_text"

	minLengthFilterName = "amanrag_min_length"

	// DefaultMinTokenLength drops single-character tokens.
	DefaultMinTokenLength = 2
)

// Tokenizer turns text into index terms.
type Tokenizer interface {
	Tokenize(text string) []string
}

// AnalyzerTokenizer tokenizes with a bleve analysis chain:
// unicode word segmentation, CJK width folding, lower-casing, CJK bigrams
// and a minimum rune length. Scripts without spaces are indexed as bigrams.
type AnalyzerTokenizer struct {
	analyzer analysis.Analyzer
}

var _ Tokenizer = (*AnalyzerTokenizer)(nil)

// NewTokenizer builds the analysis chain. minLen <= 0 selects DefaultMinTokenLength.
func NewTokenizer(minLen int) (*AnalyzerTokenizer, error) {
	if minLen <= 0 {
		minLen = DefaultMinTokenLength
	}

	cache := registry.NewCache()
	if _, err := cache.DefineTokenFilter(minLengthFilterName, map[string]interface{}{
		"type": length.Name,
		"min":  float64(minLen),
	}); err != nil {
		return nil, fmt.Errorf("failed to define length filter: %w", err)
	}

	analyzer, err := cache.DefineAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			cjk.WidthName,
			lowercase.Name,
			cjk.BigramName,
			minLengthFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to define analyzer: %w", err)
	}

	return &AnalyzerTokenizer{analyzer: analyzer}, nil
}

// Tokenize returns the terms of text in order, duplicates included.
func (t *AnalyzerTokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	stream := t.analyzer.Analyze([]byte(text))
	tokens := make([]string, 0, len(stream))
	for _, tok := range stream {
		tokens = append(tokens, string(tok.Term))
	}
	return tokens
}
