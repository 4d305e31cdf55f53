package search

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ranking(ids ...string) []Ranked {
	out := make([]Ranked, len(ids))
	for i, id := range ids {
		out[i] = Ranked{ChunkID: id, DocumentID: "doc", Score: float64(len(ids) - i)}
	}
	return out
}

func resultIDs(results []*Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func TestFuse_WeightsAndAbsentScores(t *testing.T) {
	// Given: lexical [A, B] and vector [B, C]
	lexical := ranking("A", "B")
	vector := ranking("B", "C")

	// When: fusing with alpha 0.5
	results := Fuse(lexical, vector, 0.5, 60)

	// Then: B (in both) leads, A beats C on rank position
	require.Len(t, results, 3)
	assert.Equal(t, []string{"B", "A", "C"}, resultIDs(results))

	assert.InDelta(t, 0.5/62+0.5/61, results[0].Score, 1e-12)
	assert.InDelta(t, 0.5/61, results[1].Score, 1e-12)
	assert.InDelta(t, 0.5/62, results[2].Score, 1e-12)

	// Missing sides stay absent, not zero
	assert.NotNil(t, results[1].LexicalScore)
	assert.Nil(t, results[1].VectorScore)
	assert.Nil(t, results[2].LexicalScore)
	require.NotNil(t, results[2].VectorScore)
	assert.Equal(t, 1.0, *results[2].VectorScore)
}

func TestFuse_AlphaZeroReproducesLexicalOrder(t *testing.T) {
	lexical := ranking("A", "B", "C")
	vector := ranking("C", "D", "A")

	results := Fuse(lexical, vector, 0, 60)

	assert.Equal(t, []string{"A", "B", "C"}, resultIDs(results))
}

func TestFuse_AlphaOneReproducesVectorOrder(t *testing.T) {
	lexical := ranking("A", "B", "C")
	vector := ranking("C", "D", "A")

	results := Fuse(lexical, vector, 1, 60)

	assert.Equal(t, []string{"C", "D", "A"}, resultIDs(results))
}

func TestFuse_Empty(t *testing.T) {
	results := Fuse(nil, nil, 0.5, 60)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFuse_DefaultConstant(t *testing.T) {
	results := Fuse(ranking("A"), nil, 0.5, 0)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5/61, results[0].Score, 1e-12)
}

func TestFuse_Deterministic(t *testing.T) {
	lexical := ranking("A", "B", "C", "D")
	vector := ranking("D", "C", "B", "A")

	first := resultIDs(Fuse(lexical, vector, 0.5, 60))
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, resultIDs(Fuse(lexical, vector, 0.5, 60)))
	}
}

func TestFuse_DuplicateWithinRankingUsesFirstRank(t *testing.T) {
	results := Fuse(ranking("A", "A", "B"), nil, 0.5, 60)
	require.Len(t, results, 2)
	assert.InDelta(t, 0.5/61, results[0].Score, 1e-12)
}

func TestFuse_Monotonic(t *testing.T) {
	// A chunk ranked higher in both rankings never scores lower.
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 12
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("c%02d", i)
		}
		lexIDs := append([]string(nil), ids...)
		vecIDs := append([]string(nil), ids...)
		rng.Shuffle(n, func(i, j int) { lexIDs[i], lexIDs[j] = lexIDs[j], lexIDs[i] })
		rng.Shuffle(n, func(i, j int) { vecIDs[i], vecIDs[j] = vecIDs[j], vecIDs[i] })

		alpha := rng.Float64()
		results := Fuse(ranking(lexIDs...), ranking(vecIDs...), alpha, 60)

		lexRank := rankOf(lexIDs)
		vecRank := rankOf(vecIDs)
		score := make(map[string]float64, n)
		for _, r := range results {
			score[r.ChunkID] = r.Score
		}
		for _, a := range ids {
			for _, b := range ids {
				if lexRank[a] < lexRank[b] && vecRank[a] < vecRank[b] {
					assert.GreaterOrEqual(t, score[a], score[b], "alpha=%f a=%s b=%s", alpha, a, b)
				}
			}
		}
	}
}

func rankOf(ids []string) map[string]int {
	m := make(map[string]int, len(ids))
	for i, id := range ids {
		m[id] = i
	}
	return m
}

func TestPassthrough_KeepsOwnScores(t *testing.T) {
	results := Passthrough([]Ranked{{ChunkID: "A", Score: 0.9}, {ChunkID: "B", Score: 0.4}, {ChunkID: "A", Score: 0.1}}, false)

	require.Len(t, results, 2)
	assert.Equal(t, 0.9, results[0].Score)
	require.NotNil(t, results[0].VectorScore)
	assert.Equal(t, 0.9, *results[0].VectorScore)
	assert.Nil(t, results[0].LexicalScore)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeHybrid},
		{in: "hybrid", want: ModeHybrid},
		{in: "vector_only", want: ModeVectorOnly},
		{in: "BM25", want: ModeLexicalOnly},
		{in: "lexical_only", want: ModeLexicalOnly},
		{in: "fuzzy", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
