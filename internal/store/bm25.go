package store

import (
	"math"
	"sort"
	"sync"
)

// BM25 defaults.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// BM25Params are fixed at index construction.
type BM25Params struct {
	K1 float64
	B  float64
}

// DefaultBM25Params returns k1=1.5, b=0.75.
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: DefaultK1, B: DefaultB}
}

// LexicalHit is one BM25 result.
type LexicalHit struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// IndexStats provides statistics about a BM25 index.
type IndexStats struct {
	DocumentCount int     `json:"documents"`
	TermCount     int     `json:"terms"`
	AvgDocLength  float64 `json:"avg_doc_length"`
}

// IndexSnapshot is a deep copy of the index counters, used to compare states.
type IndexSnapshot struct {
	DocCount    int
	TotalLength int
	DocFreq     map[string]int
	TermFreq    map[string]map[string]int
}

type bm25Doc struct {
	documentID string
	length     int
	terms      map[string]int
	order      uint64
}

// BM25Index is an in-memory inverted index over the chunks of one scope.
// Incremental Add and Remove keep every counter equal to a full rebuild.
type BM25Index struct {
	mu        sync.RWMutex
	params    BM25Params
	tokenizer Tokenizer

	docs     map[string]*bm25Doc       // chunk id -> doc
	postings map[string]map[string]int // term -> chunk id -> tf
	totalLen int
	nextSeq  uint64
}

// NewBM25Index creates an empty index.
func NewBM25Index(params BM25Params, tokenizer Tokenizer) *BM25Index {
	idx := &BM25Index{params: params, tokenizer: tokenizer}
	idx.reset()
	return idx
}

func (b *BM25Index) reset() {
	b.docs = make(map[string]*bm25Doc)
	b.postings = make(map[string]map[string]int)
	b.totalLen = 0
	b.nextSeq = 0
}

// Build replaces the index contents with chunks.
func (b *BM25Index) Build(chunks []*Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reset()
	for _, c := range chunks {
		b.add(c)
	}
}

// Add indexes a chunk, replacing any previous chunk with the same id.
func (b *BM25Index) Add(c *Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.remove(c.ID)
	b.add(c)
}

func (b *BM25Index) add(c *Chunk) {
	tokens := b.tokenizer.Tokenize(c.Content)
	terms := make(map[string]int, len(tokens))
	for _, t := range tokens {
		terms[t]++
	}

	b.docs[c.ID] = &bm25Doc{
		documentID: c.DocumentID,
		length:     len(tokens),
		terms:      terms,
		order:      b.nextSeq,
	}
	b.nextSeq++
	b.totalLen += len(tokens)

	for term, tf := range terms {
		p, ok := b.postings[term]
		if !ok {
			p = make(map[string]int)
			b.postings[term] = p
		}
		p[c.ID] = tf
	}
}

// Remove drops a chunk. It reports whether the chunk was indexed.
func (b *BM25Index) Remove(chunkID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remove(chunkID)
}

func (b *BM25Index) remove(chunkID string) bool {
	doc, ok := b.docs[chunkID]
	if !ok {
		return false
	}

	for term := range doc.terms {
		p := b.postings[term]
		delete(p, chunkID)
		if len(p) == 0 {
			delete(b.postings, term)
		}
	}
	b.totalLen -= doc.length
	delete(b.docs, chunkID)
	return true
}

// RemoveDocument drops every chunk of a document and returns how many were removed.
func (b *BM25Index) RemoveDocument(documentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	for id, doc := range b.docs {
		if doc.documentID == documentID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		b.remove(id)
	}
	return len(ids)
}

// Search scores chunks containing at least one query term.
// Only positive scores are returned, best first, ties in insertion order.
func (b *BM25Index) Search(query string, topK int, documentIDs []string) []LexicalHit {
	terms := b.tokenizer.Tokenize(query)
	if len(terms) == 0 || topK <= 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.docs)
	if n == 0 {
		return nil
	}
	avgdl := float64(b.totalLen) / float64(n)

	allowed := Filter{DocumentIDs: documentIDs}.documentSet()
	scores := make(map[string]float64)
	for _, term := range terms {
		p, ok := b.postings[term]
		if !ok {
			continue
		}
		df := float64(len(p))
		idf := math.Log((float64(n)-df+0.5)/(df+0.5) + 1)

		for id, tf := range p {
			doc := b.docs[id]
			if allowed != nil {
				if _, ok := allowed[doc.documentID]; !ok {
					continue
				}
			}
			ftf := float64(tf)
			norm := 1 - b.params.B
			if avgdl > 0 {
				norm += b.params.B * float64(doc.length) / avgdl
			}
			scores[id] += idf * ftf * (b.params.K1 + 1) / (ftf + b.params.K1*norm)
		}
	}

	hits := make([]LexicalHit, 0, len(scores))
	for id, score := range scores {
		if score > 0 {
			hits = append(hits, LexicalHit{ChunkID: id, DocumentID: b.docs[id].documentID, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return b.docs[hits[i].ChunkID].order < b.docs[hits[j].ChunkID].order
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Contains reports whether a chunk is indexed.
func (b *BM25Index) Contains(chunkID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.docs[chunkID]
	return ok
}

// Len returns the number of indexed chunks.
func (b *BM25Index) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}

// Stats returns index statistics.
func (b *BM25Index) Stats() IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := IndexStats{
		DocumentCount: len(b.docs),
		TermCount:     len(b.postings),
	}
	if len(b.docs) > 0 {
		stats.AvgDocLength = float64(b.totalLen) / float64(len(b.docs))
	}
	return stats
}

// Snapshot returns a deep copy of the counters.
func (b *BM25Index) Snapshot() IndexSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := IndexSnapshot{
		DocCount:    len(b.docs),
		TotalLength: b.totalLen,
		DocFreq:     make(map[string]int, len(b.postings)),
		TermFreq:    make(map[string]map[string]int, len(b.postings)),
	}
	for term, p := range b.postings {
		snap.DocFreq[term] = len(p)
		tf := make(map[string]int, len(p))
		for id, n := range p {
			tf[id] = n
		}
		snap.TermFreq[term] = tf
	}
	return snap
}
