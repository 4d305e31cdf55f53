package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	for _, q := range []string{"q1", "q2", "q3", "q4", "q5"} {
		buf.Add(q)
	}

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []string{"q3", "q4", "q5"}, buf.Items())
}

func TestCircularBuffer_PartiallyFilled(t *testing.T) {
	buf := NewCircularBuffer[int](0)

	buf.Add(1)
	buf.Add(2)

	assert.Equal(t, []int{1, 2}, buf.Items())
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestExtractTerms_DropsShortWords(t *testing.T) {
	assert.Equal(t, []string{"the", "refund", "policy"}, ExtractTerms("  The REFUND of policy "))
	assert.Empty(t, ExtractTerms("a an"))
}

func TestQueryMetrics_Record_Aggregates(t *testing.T) {
	// Given: a collector
	m := NewQueryMetrics(DefaultConfig())

	// When: recording a mix of queries
	m.Record(QueryEvent{OwnerID: "acme", Query: "refund policy", Mode: "hybrid", ResultCount: 3, Latency: 5 * time.Millisecond, Reranked: true})
	m.Record(QueryEvent{OwnerID: "acme", Query: "Refund Policy", Mode: "hybrid", ResultCount: 2, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{OwnerID: "acme", Query: "warranty", Mode: "lexical_only", Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{OwnerID: "acme", Query: "outage", Mode: "hybrid", Degraded: []string{"vector"}, Failed: true})

	// Then: the snapshot reflects every dimension
	snap := m.Snapshot()
	assert.Equal(t, int64(4), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.FailedQueries)
	assert.Equal(t, int64(1), snap.RerankedQueries)
	assert.Equal(t, int64(1), snap.ZeroResultCount, "failed queries are not zero-result queries")
	assert.Equal(t, int64(1), snap.ExactRepeatCount, "repeat detection ignores case")
	assert.Equal(t, map[string]int64{"hybrid": 3, "lexical_only": 1}, snap.ModeCounts)
	assert.Equal(t, map[string]int64{"vector": 1}, snap.DegradedBackends)
	assert.Equal(t, int64(3), snap.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP50])
	assert.Equal(t, []string{"warranty"}, snap.ZeroResultQueries)
	assert.InDelta(t, 25.0, snap.ZeroResultPercentage(), 0.001)

	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, TermCount{Term: "policy", Count: 2}, snap.TopTerms[0])
	assert.Equal(t, TermCount{Term: "refund", Count: 2}, snap.TopTerms[1])
}

func TestQueryMetrics_RepeatsArePerOwner(t *testing.T) {
	m := NewQueryMetrics(Config{})

	m.Record(QueryEvent{OwnerID: "acme", Query: "pricing", ResultCount: 1})
	m.Record(QueryEvent{OwnerID: "globex", Query: "pricing", ResultCount: 1})

	assert.Equal(t, int64(0), m.Snapshot().ExactRepeatCount)
}

func TestQueryMetrics_TopTermsReportedLimit(t *testing.T) {
	m := NewQueryMetrics(Config{TopTermsReported: 2})

	m.Record(QueryEvent{Query: "alpha beta gamma delta", ResultCount: 1})

	assert.Len(t, m.Snapshot().TopTerms, 2)
}

func TestQueryMetrics_Snapshot_IsCopy(t *testing.T) {
	m := NewQueryMetrics(Config{})
	m.Record(QueryEvent{Mode: "hybrid", ResultCount: 1})

	snap := m.Snapshot()
	snap.ModeCounts["hybrid"] = 100

	assert.Equal(t, int64(1), m.Snapshot().ModeCounts["hybrid"])
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := NewQueryMetrics(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(QueryEvent{Query: "concurrent query", Mode: "hybrid", ResultCount: 1})
			_ = m.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.Snapshot().TotalQueries)
}
