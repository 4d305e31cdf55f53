package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWConfig configures the HNSW vector store.
type HNSWConfig struct {
	Dimensions int
	M          int    // max connections per layer (default: 16)
	EfSearch   int    // query-time search width (default: 64)
	Path       string // snapshot file; empty keeps the store in memory
}

// HNSWStore implements VectorStore with coder/hnsw, one graph per owner.
// Deletion is lazy: removed nodes stay in the graph as orphans until the
// owner's graph is compacted.
type HNSWStore struct {
	mu     sync.RWMutex
	config HNSWConfig

	graphs  map[string]*ownerGraph // owner id -> graph
	entries map[string]*hnswEntry  // chunk id -> entry
	nextKey uint64

	closed bool
}

type ownerGraph struct {
	graph *hnsw.Graph[uint64]
	keys  map[uint64]string // live key -> chunk id
}

type hnswEntry struct {
	key        uint64
	documentID string
	ownerID    string
	vector     []float32 // normalized
	indexed    bool      // false for zero vectors, which are never returned
}

// hnswRecord is the persisted form of one entry.
type hnswRecord struct {
	ID         string
	DocumentID string
	OwnerID    string
	Vector     []float32
}

// hnswSnapshot stores entries for persistence. Graphs are rebuilt on load.
type hnswSnapshot struct {
	Dimensions int
	Records    []hnswRecord
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates an HNSW store, loading the snapshot at cfg.Path if present.
func NewHNSWStore(cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw store requires positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	s := &HNSWStore{
		config:  cfg,
		graphs:  make(map[string]*ownerGraph),
		entries: make(map[string]*hnswEntry),
	}

	if cfg.Path != "" {
		if err := s.load(cfg.Path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *HNSWStore) newGraph() *ownerGraph {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25
	return &ownerGraph{graph: graph, keys: make(map[uint64]string)}
}

// Insert upserts chunks. An existing id is orphaned and re-added, and the
// graph it left is considered for compaction along with the one it joined.
// A batch with an ownerless chunk is rejected before anything changes.
func (s *HNSWStore) Insert(ctx context.Context, chunks []*Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := checkDimensions(chunks, s.config.Dimensions); err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.OwnerID == "" {
			return nil, fmt.Errorf("chunk %s has no owner", c.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	ids := make([]string, 0, len(chunks))
	owners := make(map[string]struct{})
	for _, c := range chunks {
		if prev, ok := s.entries[c.ID]; ok {
			owners[prev.ownerID] = struct{}{}
		}
		s.deleteLocked(c.ID)
		s.addLocked(c.ID, c.DocumentID, c.OwnerID, normalized(c.Embedding))
		ids = append(ids, c.ID)
		owners[c.OwnerID] = struct{}{}
	}
	for owner := range owners {
		s.maybeCompactLocked(owner)
	}
	return ids, nil
}

func (s *HNSWStore) addLocked(id, documentID, ownerID string, vec []float32) {
	key := s.nextKey
	s.nextKey++

	entry := &hnswEntry{key: key, documentID: documentID, ownerID: ownerID, vector: vec}
	if dot(vec, vec) > 0 {
		og, ok := s.graphs[ownerID]
		if !ok {
			og = s.newGraph()
			s.graphs[ownerID] = og
		}
		og.graph.Add(hnsw.MakeNode(key, vec))
		og.keys[key] = id
		entry.indexed = true
	}
	s.entries[id] = entry
}

// deleteLocked orphans an entry's graph node.
func (s *HNSWStore) deleteLocked(id string) bool {
	entry, ok := s.entries[id]
	if !ok {
		return false
	}
	if og, ok := s.graphs[entry.ownerID]; ok {
		delete(og.keys, entry.key)
	}
	delete(s.entries, id)
	return true
}

// Search runs a filtered k-NN query within the owner's graph.
// With a document filter it oversamples, doubling k until enough hits pass.
func (s *HNSWStore) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]VectorHit, error) {
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	og, ok := s.graphs[filter.OwnerID]
	if !ok || len(og.keys) == 0 || topK <= 0 {
		return []VectorHit{}, nil
	}

	q := normalized(query)
	allowed := filter.documentSet()
	total := og.graph.Len()

	k := topK
	if allowed != nil || total > len(og.keys) {
		k = topK * 2
	}

	var cands []scoredVector
	for {
		if k > total {
			k = total
		}
		cands = cands[:0]
		for i, node := range og.graph.Search(q, k) {
			id, live := og.keys[node.Key]
			if !live {
				continue
			}
			entry := s.entries[id]
			if allowed != nil {
				if _, ok := allowed[entry.documentID]; !ok {
					continue
				}
			}
			cands = append(cands, scoredVector{
				hit:   VectorHit{ChunkID: id, DocumentID: entry.documentID, Score: dot(q, entry.vector)},
				order: i,
			})
		}
		if len(cands) >= topK || k >= total {
			break
		}
		k *= 2
	}

	return rankTopK(cands, topK), nil
}

// DeleteByDocument removes a document's vectors.
func (s *HNSWStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	return s.deleteWhere(func(e *hnswEntry) bool { return e.documentID == documentID })
}

// DeleteByOwner removes an owner's vectors and its graph.
func (s *HNSWStore) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	n, err := s.deleteWhere(func(e *hnswEntry) bool { return e.ownerID == ownerID })
	if err != nil {
		return n, err
	}
	s.mu.Lock()
	delete(s.graphs, ownerID)
	s.mu.Unlock()
	return n, nil
}

func (s *HNSWStore) deleteWhere(match func(*hnswEntry) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var ids []string
	owners := make(map[string]struct{})
	for id, e := range s.entries {
		if match(e) {
			ids = append(ids, id)
			owners[e.ownerID] = struct{}{}
		}
	}
	for _, id := range ids {
		s.deleteLocked(id)
	}
	for owner := range owners {
		s.maybeCompactLocked(owner)
	}
	return len(ids), nil
}

// maybeCompactLocked rebuilds an owner's graph once orphans outnumber live nodes.
func (s *HNSWStore) maybeCompactLocked(ownerID string) {
	og, ok := s.graphs[ownerID]
	if !ok {
		return
	}
	live := len(og.keys)
	orphans := og.graph.Len() - live
	if live == 0 {
		delete(s.graphs, ownerID)
		return
	}
	if orphans <= live {
		return
	}

	fresh := s.newGraph()
	for key, id := range og.keys {
		fresh.graph.Add(hnsw.MakeNode(key, s.entries[id].vector))
		fresh.keys[key] = id
	}
	s.graphs[ownerID] = fresh

	slog.Debug("hnsw_graph_compacted",
		slog.String("owner_id", ownerID),
		slog.Int("live", live),
		slog.Int("orphans_removed", orphans))
}

// Stats returns entity and orphan counts.
func (s *HNSWStore) Stats(ctx context.Context) (VectorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return VectorStats{}, fmt.Errorf("store is closed")
	}

	stats := VectorStats{
		Backend:     "hnsw",
		EntityCount: len(s.entries),
		Dimensions:  s.config.Dimensions,
	}
	for _, og := range s.graphs {
		stats.Orphans += og.graph.Len() - len(og.keys)
	}
	return stats, nil
}

// Save persists entries to path.
// Uses atomic save (temp file + rename).
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.saveLocked(path)
}

func (s *HNSWStore) saveLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	snap := hnswSnapshot{Dimensions: s.config.Dimensions, Records: make([]hnswRecord, 0, len(s.entries))}
	for id, e := range s.entries {
		snap.Records = append(snap.Records, hnswRecord{
			ID:         id,
			DocumentID: e.documentID,
			OwnerID:    e.ownerID,
			Vector:     e.vector,
		})
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}
	return nil
}

// load reads a snapshot and rebuilds the graphs. A missing file is a fresh start.
func (s *HNSWStore) load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open hnsw snapshot: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw snapshot", slog.String("error", err.Error()))
		}
	}()

	var snap hnswSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode hnsw snapshot: %w", err)
	}
	if snap.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: snap.Dimensions}
	}

	for _, r := range snap.Records {
		s.addLocked(r.ID, r.DocumentID, r.OwnerID, r.Vector)
	}
	slog.Debug("hnsw_snapshot_loaded",
		slog.String("path", path),
		slog.Int("entries", len(snap.Records)))
	return nil
}

// Close saves the snapshot when a path is configured and releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var err error
	if s.config.Path != "" {
		err = s.saveLocked(s.config.Path)
	}
	s.closed = true
	s.graphs = nil
	return err
}
