package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// Fuse combines a lexical and a vector ranking with Reciprocal Rank Fusion.
//
// The i-th item (0-indexed) of the vector ranking contributes alpha/(k+i+1)
// and the i-th item of the lexical ranking (1-alpha)/(k+i+1). A chunk
// missing from one ranking gets only the other's contribution and keeps a
// nil score for the missing side. Chunks that received no weight at all
// (alpha 0 or 1 with the chunk only on the zero-weight side) are dropped.
//
// Results are sorted by: fused score (desc) → in both rankings → best
// rank (asc) → ChunkID (asc). k <= 0 selects DefaultRRFConstant.
func Fuse(lexical, vector []Ranked, alpha float64, k int) []*Result {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if len(lexical) == 0 && len(vector) == 0 {
		return []*Result{}
	}

	entries := make(map[string]*fusedEntry, len(lexical)+len(vector))
	get := func(r Ranked) *fusedEntry {
		e, ok := entries[r.ChunkID]
		if !ok {
			e = &fusedEntry{result: &Result{ChunkID: r.ChunkID, DocumentID: r.DocumentID}, bestRank: -1}
			entries[r.ChunkID] = e
		}
		return e
	}

	for i, r := range lexical {
		e := get(r)
		if e.result.LexicalScore != nil {
			continue // duplicate within one ranking, first rank wins
		}
		e.result.LexicalScore = Float(r.Score)
		e.result.Score += (1 - alpha) / float64(k+i+1)
		e.sides++
		e.observeRank(i)
	}
	for i, r := range vector {
		e := get(r)
		if e.result.VectorScore != nil {
			continue
		}
		e.result.VectorScore = Float(r.Score)
		e.result.Score += alpha / float64(k+i+1)
		e.sides++
		e.observeRank(i)
	}

	out := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		if e.result.Score > 0 {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		if a.sides != b.sides {
			return a.sides > b.sides
		}
		if a.bestRank != b.bestRank {
			return a.bestRank < b.bestRank
		}
		return a.result.ChunkID < b.result.ChunkID
	})

	results := make([]*Result, len(out))
	for i, e := range out {
		results[i] = e.result
	}
	return results
}

// fusedEntry holds intermediate fusion state.
type fusedEntry struct {
	result   *Result
	sides    int
	bestRank int
}

func (e *fusedEntry) observeRank(rank int) {
	if e.bestRank < 0 || rank < e.bestRank {
		e.bestRank = rank
	}
}

// Passthrough turns a single ranking into results without fusion math:
// each result keeps its own score as the fused score.
func Passthrough(ranking []Ranked, lexical bool) []*Result {
	results := make([]*Result, 0, len(ranking))
	seen := make(map[string]struct{}, len(ranking))
	for _, r := range ranking {
		if _, dup := seen[r.ChunkID]; dup {
			continue
		}
		seen[r.ChunkID] = struct{}{}

		res := &Result{ChunkID: r.ChunkID, DocumentID: r.DocumentID, Score: r.Score}
		if lexical {
			res.LexicalScore = Float(r.Score)
		} else {
			res.VectorScore = Float(r.Score)
		}
		results = append(results, res)
	}
	return results
}
