package store

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textChunk(id, docID, content string) *Chunk {
	return &Chunk{ID: id, DocumentID: docID, OwnerID: "owner", Content: content}
}

func newTestIndex(t *testing.T) *BM25Index {
	t.Helper()
	return NewBM25Index(DefaultBM25Params(), newTestTokenizer(t))
}

func fruitCorpus() []*Chunk {
	return []*Chunk{
		textChunk("c1", "d1", "apple banana"),
		textChunk("c2", "d1", "apple cherry cherry"),
		textChunk("c3", "d2", "banana"),
	}
}

func TestBM25Index_Search_ExactScore(t *testing.T) {
	// Given: three chunks of lengths 2, 3 and 1 (avgdl = 2)
	idx := newTestIndex(t)
	idx.Build(fruitCorpus())

	// When: searching a term that occurs twice in c2 only
	hits := idx.Search("cherry", 10, nil)

	// Then: the score matches the formula
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].ChunkID)
	assert.Equal(t, "d1", hits[0].DocumentID)

	k1, b := 1.5, 0.75
	idf := math.Log((3-1+0.5)/(1+0.5) + 1)
	norm := 1 - b + b*3.0/2.0
	want := idf * 2 * (k1 + 1) / (2 + k1*norm)
	assert.InDelta(t, want, hits[0].Score, 1e-12)
}

func TestBM25Index_Search_RanksAndFilters(t *testing.T) {
	idx := newTestIndex(t)
	idx.Build(fruitCorpus())

	// banana: c3 is shorter than c1, so it ranks first
	hits := idx.Search("banana", 10, nil)
	require.Len(t, hits, 2)
	assert.Equal(t, "c3", hits[0].ChunkID)
	assert.Equal(t, "c1", hits[1].ChunkID)

	// Document filter is applied before ranking
	hits = idx.Search("banana", 10, []string{"d1"})
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)

	// topK caps the result
	hits = idx.Search("apple banana", 1, nil)
	assert.Len(t, hits, 1)
}

func TestBM25Index_Search_NoMatches(t *testing.T) {
	idx := newTestIndex(t)
	idx.Build(fruitCorpus())

	assert.Empty(t, idx.Search("durian", 10, nil))
	assert.Empty(t, idx.Search("", 10, nil))
	assert.Empty(t, idx.Search("apple", 0, nil))
	assert.Empty(t, NewBM25Index(DefaultBM25Params(), newTestTokenizer(t)).Search("apple", 10, nil))
}

func TestBM25Index_Search_TiesKeepInsertionOrder(t *testing.T) {
	idx := newTestIndex(t)
	idx.Build([]*Chunk{
		textChunk("z", "d1", "same words here"),
		textChunk("a", "d1", "same words here"),
		textChunk("m", "d1", "same words here"),
	})

	for i := 0; i < 5; i++ {
		hits := idx.Search("words", 10, nil)
		require.Len(t, hits, 3)
		assert.Equal(t, []string{"z", "a", "m"}, []string{hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID})
	}
}

func TestBM25Index_Search_DuplicateQueryTermsCount(t *testing.T) {
	idx := newTestIndex(t)
	idx.Build(fruitCorpus())

	single := idx.Search("cherry", 10, nil)
	double := idx.Search("cherry cherry", 10, nil)
	require.Len(t, single, 1)
	require.Len(t, double, 1)
	assert.InDelta(t, 2*single[0].Score, double[0].Score, 1e-12)
}

func TestBM25Index_Search_Deterministic(t *testing.T) {
	var chunks []*Chunk
	for i := 0; i < 50; i++ {
		chunks = append(chunks, textChunk(fmt.Sprintf("c%02d", i), "d1",
			fmt.Sprintf("retrieval engine chunk %d with lexical terms %d", i, i%7)))
	}

	a := newTestIndex(t)
	a.Build(chunks)
	b := newTestIndex(t)
	b.Build(chunks)

	assert.Equal(t, a.Search("lexical retrieval terms", 20, nil), b.Search("lexical retrieval terms", 20, nil))
}

func TestBM25Index_RemoveAll_EqualsEmptyBuild(t *testing.T) {
	// Given: an index built from a corpus
	idx := newTestIndex(t)
	chunks := fruitCorpus()
	idx.Build(chunks)

	// When: every chunk is removed one at a time
	for _, c := range chunks {
		assert.True(t, idx.Remove(c.ID))
	}

	// Then: the state equals an index built from nothing
	empty := newTestIndex(t)
	empty.Build(nil)
	assert.Equal(t, empty.Snapshot(), idx.Snapshot())
	assert.Equal(t, IndexStats{}, idx.Stats())
	assert.False(t, idx.Remove("c1"))
}

func TestBM25Index_Incremental_EqualsRebuild(t *testing.T) {
	chunks := fruitCorpus()
	extra := textChunk("c4", "d2", "cherry apple pie")

	// Incremental: build, add, remove
	inc := newTestIndex(t)
	inc.Build(chunks)
	inc.Add(extra)
	inc.Remove("c1")

	// Rebuild from the surviving chunks
	full := newTestIndex(t)
	full.Build([]*Chunk{chunks[1], chunks[2], extra})

	assert.Equal(t, full.Snapshot(), inc.Snapshot())
	assert.Equal(t, full.Stats(), inc.Stats())
	assert.Equal(t, full.Search("cherry apple", 10, nil), inc.Search("cherry apple", 10, nil))
}

func TestBM25Index_Add_Upserts(t *testing.T) {
	idx := newTestIndex(t)
	idx.Add(textChunk("c1", "d1", "apple"))
	idx.Add(textChunk("c1", "d1", "banana split"))

	assert.Equal(t, 1, idx.Len())
	assert.Empty(t, idx.Search("apple", 10, nil))
	assert.Len(t, idx.Search("banana", 10, nil), 1)
	assert.Equal(t, 2.0, idx.Stats().AvgDocLength)
}

func TestBM25Index_RemoveDocument(t *testing.T) {
	idx := newTestIndex(t)
	idx.Build(fruitCorpus())

	assert.Equal(t, 2, idx.RemoveDocument("d1"))
	assert.False(t, idx.Contains("c1"))
	assert.True(t, idx.Contains("c3"))
	assert.Equal(t, 0, idx.RemoveDocument("d1"))
}

func TestBM25Index_Stats(t *testing.T) {
	idx := newTestIndex(t)
	idx.Build(fruitCorpus())

	stats := idx.Stats()
	assert.Equal(t, 3, stats.DocumentCount)
	assert.Equal(t, 3, stats.TermCount) // apple, banana, cherry
	assert.Equal(t, 2.0, stats.AvgDocLength)

	snap := idx.Snapshot()
	assert.Equal(t, 2, snap.DocFreq["apple"])
	assert.Equal(t, 2, snap.TermFreq["cherry"]["c2"])
}
