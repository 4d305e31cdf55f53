package search

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreview(t *testing.T) {
	short := "Paris is the capital of France."
	assert.Equal(t, short, Preview(short))

	exact := strings.Repeat("a", PreviewLength)
	assert.Equal(t, exact, Preview(exact))

	long := strings.Repeat("北", PreviewLength+1)
	got := Preview(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, PreviewLength, utf8.RuneCountInString(strings.TrimSuffix(got, "...")))
}

func TestHighlights(t *testing.T) {
	terms := func(words ...string) [][]rune {
		out := make([][]rune, len(words))
		for i, w := range words {
			out[i] = []rune(w)
		}
		return out
	}

	tests := []struct {
		name    string
		content string
		terms   [][]rune
		want    []Range
	}{
		{
			name:    "case insensitive",
			content: "Paris is the capital of France.",
			terms:   terms("paris", "france"),
			want:    []Range{{Start: 0, End: 5}, {Start: 24, End: 30}},
		},
		{
			name:    "every occurrence",
			content: "go go go",
			terms:   terms("go"),
			want:    []Range{{Start: 0, End: 2}, {Start: 3, End: 5}, {Start: 6, End: 8}},
		},
		{
			name:    "overlapping merged",
			content: "capitalism",
			terms:   terms("capital", "talis"),
			want:    []Range{{Start: 0, End: 9}},
		},
		{
			name:    "adjacent merged",
			content: "abcd",
			terms:   terms("ab", "cd"),
			want:    []Range{{Start: 0, End: 4}},
		},
		{
			name:    "self overlapping term",
			content: "aaaa",
			terms:   terms("aa"),
			want:    []Range{{Start: 0, End: 4}},
		},
		{
			name:    "rune offsets",
			content: "北京大学在北京",
			terms:   terms("北京"),
			want:    []Range{{Start: 0, End: 2}, {Start: 5, End: 7}},
		},
		{
			name:    "no terms",
			content: "anything",
			want:    []Range{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Highlights(tt.content, tt.terms)
			assert.Equal(t, tt.want, got)

			n := utf8.RuneCountInString(tt.content)
			for i, r := range got {
				assert.True(t, 0 <= r.Start && r.Start < r.End && r.End <= n, "range %v out of bounds", r)
				if i > 0 {
					assert.Greater(t, r.Start, got[i-1].End)
				}
			}
		})
	}
}

func TestExtractSection(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "title line", content: "Introduction\nThis chapter explains things.", want: "Introduction"},
		{name: "skips page marker", content: "[Page 3]\nResults\nBody text.", want: "Results"},
		{name: "sentence is not a title", content: "This is a sentence.\nAnother one.", want: ""},
		{name: "chinese punctuation", content: "这是一个句子。", want: ""},
		{name: "too long", content: strings.Repeat("word ", 12), want: ""},
		{name: "only first three lines", content: "One.\nTwo.\nThree.\nHeading", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractSection(tt.content))
		})
	}
}

// seedDocument stores a ready document with one chunk per content.
func TestHighlights_RandomContentKeepsRangesOrdered(t *testing.T) {
	vocab := []string{"Paris", "paris", "PAR", "is", "数据", "数据库", "检索", "a", "aa", "ÄPFEL", "äpfel", " ", "。", "\n"}

	for seed := uint64(1); seed <= 300; seed++ {
		r := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))

		var b strings.Builder
		for n := r.IntN(40); n > 0; n-- {
			b.WriteString(vocab[r.IntN(len(vocab))])
		}
		content := b.String()

		terms := make([][]rune, 1+r.IntN(4))
		for i := range terms {
			terms[i] = lowerRunes(vocab[r.IntN(len(vocab))])
		}

		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			got := Highlights(content, terms)
			runeLen := utf8.RuneCountInString(content)

			for i, rg := range got {
				assert.GreaterOrEqual(t, rg.Start, 0)
				assert.Less(t, rg.Start, rg.End)
				assert.LessOrEqual(t, rg.End, runeLen)
				if i > 0 {
					assert.Greater(t, rg.Start, got[i-1].End, "ranges %v", got)
				}
			}

			// Every occurrence of every term lies inside one range
			lowered := lowerRunes(content)
			for _, term := range terms {
				for pos := indexRunes(lowered, term, 0); pos >= 0; pos = indexRunes(lowered, term, pos+1) {
					assert.True(t, covered(got, pos, pos+len(term)), "term %q at %d", string(term), pos)
				}
			}
		})
	}
}

func covered(ranges []Range, start, end int) bool {
	for _, rg := range ranges {
		if rg.Start <= start && end <= rg.End {
			return true
		}
	}
	return false
}

func seedDocument(t *testing.T, corpus store.CorpusStore, owner, docID, name string, contents ...string) []*store.Chunk {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, corpus.SaveDocument(ctx, &store.Document{ID: docID, OwnerID: owner, Name: name, Status: store.StatusReady}))

	chunks := make([]*store.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = &store.Chunk{
			ID:         fmt.Sprintf("%s-%d", docID, i),
			DocumentID: docID,
			OwnerID:    owner,
			Sequence:   i,
			Content:    c,
		}
	}
	require.NoError(t, corpus.ReplaceChunks(ctx, docID, chunks))
	return chunks
}

func newTestCorpus(t *testing.T) store.CorpusStore {
	t.Helper()
	corpus, err := store.NewSQLiteCorpus("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = corpus.Close() })
	return corpus
}

func TestCitationBuilder_Build(t *testing.T) {
	b := NewCitationBuilder(newTestCorpus(t), nil)
	page := 4
	r := &Result{
		ChunkID:      "c1",
		DocumentID:   "d1",
		DocumentName: "geo.txt",
		Content:      "Capitals\nParis is the capital of France.",
		Page:         &page,
		Score:        0.42,
	}

	c := b.Build(r, "capital of France")

	assert.Equal(t, "geo.txt", c.DocumentName)
	assert.Equal(t, "Capitals", c.Section)
	assert.Equal(t, &page, c.Page)
	assert.Equal(t, 0.42, c.Score)
	assert.Equal(t, r.Content, c.Preview)
	assert.NotEmpty(t, c.Highlights)
	assert.Equal(t, Range{Start: 0, End: 7}, c.Highlights[0])
}

func TestCitationBuilder_Build_PrefersChunkSection(t *testing.T) {
	b := NewCitationBuilder(newTestCorpus(t), nil)
	c := b.Build(&Result{Content: "Heading\nBody.", Section: "Chapter 1"}, "")
	assert.Equal(t, "Chapter 1", c.Section)
	assert.Empty(t, c.Highlights)
}

func TestCitationBuilder_Detail_Context(t *testing.T) {
	corpus := newTestCorpus(t)
	seedDocument(t, corpus, "alice", "doc", "notes.md", "zero", "one", "two", "three", "four")
	b := NewCitationBuilder(corpus, nil)
	ctx := context.Background()

	// Middle chunk, one neighbor per side
	d, err := b.Detail(ctx, "doc-2", "", true, 1)
	require.NoError(t, err)
	assert.Equal(t, "two", d.Content)
	assert.Equal(t, 2, d.Sequence)
	assert.Equal(t, []string{"one"}, d.Before)
	assert.Equal(t, []string{"three"}, d.After)
	assert.Equal(t, 5, d.TotalChunks)
	assert.Equal(t, "notes.md", d.DocumentName)

	// Edge chunk, clipped context
	d, err = b.Detail(ctx, "doc-0", "alice", true, 3)
	require.NoError(t, err)
	assert.Empty(t, d.Before)
	assert.Equal(t, []string{"one", "two", "three"}, d.After)

	// Context disabled
	d, err = b.Detail(ctx, "doc-2", "", false, 3)
	require.NoError(t, err)
	assert.Empty(t, d.Before)
	assert.Empty(t, d.After)
}

func TestCitationBuilder_Detail_Errors(t *testing.T) {
	corpus := newTestCorpus(t)
	seedDocument(t, corpus, "alice", "doc", "notes.md", "zero")
	b := NewCitationBuilder(corpus, nil)
	ctx := context.Background()

	_, err := b.Detail(ctx, "missing", "", true, 1)
	assert.ErrorIs(t, err, amanerrors.ErrNotFound)

	_, err = b.Detail(ctx, "doc-0", "bob", true, 1)
	assert.ErrorIs(t, err, amanerrors.ErrNotFound)

	_, err = b.Detail(ctx, "doc-0", "", true, 4)
	assert.ErrorIs(t, err, amanerrors.ErrOutOfRange)

	_, err = b.Detail(ctx, " ", "", true, 1)
	assert.ErrorIs(t, err, amanerrors.ErrInvalidInput)
}

func TestCitationBuilder_Details_SkipsMissing(t *testing.T) {
	corpus := newTestCorpus(t)
	seedDocument(t, corpus, "alice", "doc", "notes.md", "zero", "one")
	b := NewCitationBuilder(corpus, nil)

	details, err := b.Details(context.Background(), []string{"doc-1", "nope", "doc-0"}, "alice")

	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, "doc-1", details[0].ChunkID)
	assert.Equal(t, "doc-0", details[1].ChunkID)
	assert.Empty(t, details[0].Before)
}
