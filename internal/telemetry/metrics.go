// Package telemetry aggregates search query metrics in memory.
// Nothing leaves the process; snapshots are served by the stats endpoints.
package telemetry

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one finished search.
type QueryEvent struct {
	OwnerID     string
	Query       string
	Mode        string
	ResultCount int
	Latency     time.Duration
	Reranked    bool

	// Degraded names the retrieval sides that failed and were skipped.
	Degraded []string

	// Failed is set when the search returned an error after validation.
	Failed bool
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer. capacity <= 0 selects 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
	} else {
		n := copy(out, b.items[b.head:])
		copy(out[n:], b.items[:b.head])
	}
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms lowercases query and returns its whitespace-separated words
// of at least three bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	FailedQueries       int64                   `json:"failed_queries"`
	RerankedQueries     int64                   `json:"reranked_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ModeCounts          map[string]int64        `json:"mode_counts"`
	DegradedBackends    map[string]int64        `json:"degraded_backends,omitempty"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of queries with no results, 0-100.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config bounds the memory the collector uses.
type Config struct {
	TopTermsCapacity      int // distinct terms tracked (default 100)
	ZeroResultsCapacity   int // recent zero-result queries kept (default 100)
	RecentQueriesCapacity int // query hashes kept for repeat detection (default 500)
	TopTermsReported      int // terms in a snapshot (default 20)
}

// DefaultConfig returns the default capacities.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		TopTermsReported:      20,
	}
}

// QueryMetrics collects query metrics. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	modes     map[string]int64
	degraded  map[string]int64
	latencies map[LatencyBucket]int64
	total     int64
	failed    int64
	reranked  int64
	zero      int64
	repeats   int64
	start     time.Time

	topTerms    *lru.Cache[string, int64]
	recent      *lru.Cache[string, struct{}]
	zeroResults *CircularBuffer[string]
	reported    int
}

// NewQueryMetrics creates a collector. Zero capacities select the defaults.
func NewQueryMetrics(cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}
	if cfg.TopTermsReported <= 0 {
		cfg.TopTermsReported = def.TopTermsReported
	}

	// Sizes are positive, so New cannot fail.
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &QueryMetrics{
		modes:       make(map[string]int64),
		degraded:    make(map[string]int64),
		latencies:   make(map[LatencyBucket]int64),
		start:       time.Now(),
		topTerms:    topTerms,
		recent:      recent,
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		reported:    cfg.TopTermsReported,
	}
}

// Record adds one query.
func (m *QueryMetrics) Record(ev QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.modes[ev.Mode]++
	m.latencies[LatencyToBucket(ev.Latency)]++
	for _, backend := range ev.Degraded {
		m.degraded[backend]++
	}
	if ev.Reranked {
		m.reranked++
	}

	key := hashQuery(ev.OwnerID, ev.Query)
	if _, seen := m.recent.Get(key); seen {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})

	for _, term := range ExtractTerms(ev.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if ev.Failed {
		m.failed++
		return
	}
	if ev.ResultCount == 0 {
		m.zero++
		m.zeroResults.Add(ev.Query)
	}
}

// hashQuery keys a normalized query per owner.
func hashQuery(ownerID, query string) string {
	sum := sha256.Sum256([]byte(ownerID + "\x00" + strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns a copy of the current metrics.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	slices.SortFunc(terms, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Term, b.Term)
	})
	if len(terms) > m.reported {
		terms = terms[:m.reported]
	}

	snap := &Snapshot{
		TotalQueries:        m.total,
		FailedQueries:       m.failed,
		RerankedQueries:     m.reranked,
		ZeroResultCount:     m.zero,
		ExactRepeatCount:    m.repeats,
		ModeCounts:          copyMap(m.modes),
		LatencyDistribution: copyMap(m.latencies),
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		Since:               m.start,
	}
	if len(m.degraded) > 0 {
		snap.DegradedBackends = copyMap(m.degraded)
	}
	return snap
}

func copyMap[K comparable](in map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
