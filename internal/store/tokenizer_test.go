package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenizer(t *testing.T) *AnalyzerTokenizer {
	t.Helper()
	tok, err := NewTokenizer(DefaultMinTokenLength)
	require.NoError(t, err)
	return tok
}

func TestAnalyzerTokenizer_Tokenize(t *testing.T) {
	tok := newTestTokenizer(t)

	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{
			name:   "lower-cases words",
			input:  "Hello World",
			expect: []string{"hello", "world"},
		},
		{
			name:   "drops single characters",
			input:  "a cat is x",
			expect: []string{"cat", "is"},
		},
		{
			name:   "strips punctuation",
			input:  "capital, of France.",
			expect: []string{"capital", "of", "france"},
		},
		{
			name:   "keeps duplicates in order",
			input:  "go go gophers",
			expect: []string{"go", "go", "gophers"},
		},
		{
			name:   "CJK text becomes bigrams",
			input:  "北京大学",
			expect: []string{"北京", "京大", "大学"},
		},
		{
			name:   "empty input",
			input:  "",
			expect: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tok.Tokenize(tt.input))
		})
	}
}

func TestNewTokenizer_MinLength(t *testing.T) {
	tok, err := NewTokenizer(4)
	require.NoError(t, err)

	assert.Equal(t, []string{"quick", "brown"}, tok.Tokenize("the quick brown fox"))
}
