package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

const testDims = 32

type fixture struct {
	corpus   store.CorpusStore
	vectors  store.VectorStore
	scopes   *store.ScopeRegistry
	embedder embed.Embedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	corpus, err := store.NewSQLiteCorpus("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = corpus.Close() })

	vectors, err := store.NewSQLiteVectorStore("", testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	tokenizer, err := store.NewTokenizer(store.DefaultMinTokenLength)
	require.NoError(t, err)
	scopes, err := store.NewScopeRegistry(corpus, store.DefaultBM25Params(), tokenizer, 0)
	require.NoError(t, err)

	return &fixture{corpus: corpus, vectors: vectors, scopes: scopes, embedder: embed.NewStaticEmbedder(testDims)}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.BatchSize = 2
	opts.Workers = 2
	opts.Retry = amanerrors.RetryConfig{MaxRetries: 0}
	return opts
}

func (f *fixture) coordinator(t *testing.T, embedder embed.Embedder, opts ...Option) *Coordinator {
	t.Helper()
	if embedder == nil {
		embedder = f.embedder
	}
	opts = append([]Option{WithOptions(testOptions())}, opts...)
	c, err := NewCoordinator(f.corpus, f.vectors, f.scopes, embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func (f *fixture) vectorCount(t *testing.T) int {
	t.Helper()
	stats, err := f.vectors.Stats(context.Background())
	require.NoError(t, err)
	return stats.EntityCount
}

func drafts(contents ...string) []chunk.Draft {
	out := make([]chunk.Draft, len(contents))
	for i, c := range contents {
		out[i] = chunk.Draft{Content: c, Sequence: i}
	}
	return out
}

// flakyEmbedder fails the calls listed in failOn (1-based).
type flakyEmbedder struct {
	embed.Embedder
	calls  atomic.Int32
	failOn map[int32]bool
}

func (e *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := e.calls.Add(1)
	if e.failOn[n] {
		return nil, errors.New("provider overloaded")
	}
	return e.Embedder.EmbedBatch(ctx, texts)
}

// brokenVectors rejects every insert.
type brokenVectors struct {
	store.VectorStore
}

func (brokenVectors) Insert(context.Context, []*store.Chunk) ([]string, error) {
	return nil, errors.New("vector service unreachable")
}

// stuckVectors cannot delete.
type stuckVectors struct {
	store.VectorStore
}

func (stuckVectors) DeleteByDocument(context.Context, string) (int, error) {
	return 0, errors.New("vector service unreachable")
}

// stuckCorpus cannot delete documents.
type stuckCorpus struct {
	store.CorpusStore
}

func (stuckCorpus) DeleteDocument(context.Context, string) (int, error) {
	return 0, errors.New("disk is read-only")
}

func TestChunkID_Deterministic(t *testing.T) {
	assert.Equal(t, ChunkID("doc", 3), ChunkID("doc", 3))
	assert.NotEqual(t, ChunkID("doc", 3), ChunkID("doc", 4))
	assert.NotEqual(t, ChunkID("doc", 3), ChunkID("doc2", 3))
}

func TestCoordinator_Ingest_Ready(t *testing.T) {
	// Given: an empty corpus
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	// When: ingesting three chunks
	doc, err := c.Ingest(ctx, &store.Document{ID: "geo", OwnerID: "alice", Name: "geo.txt"},
		drafts("Paris is the capital of France.", "The Eiffel Tower is in Paris.", "Berlin is the capital of Germany."))

	// Then: every store holds the chunks and the document is ready
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)

	stored, err := c.Status(ctx, "geo")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, stored.Status)
	assert.Empty(t, stored.ErrorMessage)

	chunks, err := f.corpus.ChunksByDocument(ctx, "geo")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, ChunkID("geo", 1), chunks[1].ID)
	assert.Equal(t, 3, f.vectorCount(t))

	idx, err := f.scopes.Get(ctx, "alice")
	require.NoError(t, err)
	hits := idx.Search("eiffel", 10, nil)
	require.Len(t, hits, 1)
	assert.Equal(t, ChunkID("geo", 1), hits[0].ChunkID)
}

func TestCoordinator_Ingest_WarmScopeSeesNewChunks(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	_, err := f.scopes.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, f.scopes.Warm("alice"))

	_, err = c.Ingest(ctx, &store.Document{ID: "d", OwnerID: "alice"}, drafts("quantum entanglement"))
	require.NoError(t, err)

	idx, err := f.scopes.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, idx.Search("quantum", 10, nil), 1)
}

func TestCoordinator_Ingest_EmptyContent(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	_, err := c.Ingest(ctx, &store.Document{ID: "empty", OwnerID: "alice"}, nil)

	assert.ErrorIs(t, err, amanerrors.ErrChunkingFailed)
	doc, err := c.Status(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, doc.Status)
	assert.Equal(t, ErrNoContent, doc.ErrorMessage)
}

func TestCoordinator_IngestText_BlankText(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)

	_, err := c.IngestText(context.Background(), &store.Document{ID: "blank", OwnerID: "alice"}, "   \n\n ")

	require.Error(t, err)
	doc, err := c.Status(context.Background(), "blank")
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, doc.Status)
	assert.Equal(t, ErrNoContent, doc.ErrorMessage)
}

func TestCoordinator_Ingest_EmbeddingFailureCompensates(t *testing.T) {
	// Given: a provider failing on the second batch
	f := newFixture(t)
	flaky := &flakyEmbedder{Embedder: f.embedder, failOn: map[int32]bool{2: true}}
	opts := testOptions()
	opts.Workers = 1
	c := f.coordinator(t, flaky, WithOptions(opts))
	ctx := context.Background()

	// When: ingesting three batches
	_, err := c.Ingest(ctx, &store.Document{ID: "d", OwnerID: "alice"}, drafts("a1", "a2", "b1", "b2", "c1"))

	// Then: nothing is left behind and the reason is recorded
	assert.ErrorIs(t, err, amanerrors.ErrEmbeddingFailed)
	doc, err := c.Status(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "provider overloaded")

	n, err := f.corpus.CountChunks(ctx, "d")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.vectorCount(t))
}

func TestCoordinator_Ingest_VectorFailureCompensates(t *testing.T) {
	f := newFixture(t)
	c, err := NewCoordinator(f.corpus, brokenVectors{f.vectors}, f.scopes, f.embedder, WithOptions(testOptions()))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Ingest(ctx, &store.Document{ID: "d", OwnerID: "alice"}, drafts("searchable words"))

	assert.ErrorIs(t, err, amanerrors.ErrStoreWriteFailed)
	n, err := f.corpus.CountChunks(ctx, "d")
	require.NoError(t, err)
	assert.Zero(t, n)

	idx, err := f.scopes.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, idx.Search("searchable", 10, nil))

	doc, err := c.Status(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, doc.Status)
}

func TestCoordinator_Ingest_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyEmbedder{Embedder: f.embedder, failOn: map[int32]bool{1: true}}
	opts := testOptions()
	opts.Workers = 1
	opts.Retry = amanerrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	c := f.coordinator(t, flaky, WithOptions(opts))

	doc, err := c.Ingest(context.Background(), &store.Document{ID: "d", OwnerID: "alice"}, drafts("one", "two"))

	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, doc.Status)
	assert.Equal(t, int32(2), flaky.calls.Load())
}

func TestCoordinator_Ingest_ReingestReplacesChunks(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	first, err := c.Ingest(ctx, &store.Document{ID: "d", OwnerID: "alice"}, drafts("alpha", "beta", "gamma"))
	require.NoError(t, err)
	created := first.CreatedAt

	doc, err := c.Ingest(ctx, &store.Document{ID: "d", OwnerID: "alice"}, drafts("delta"))
	require.NoError(t, err)

	assert.Equal(t, 1, doc.ChunkCount)
	assert.Equal(t, created.UnixNano(), doc.CreatedAt.UnixNano())
	assert.Equal(t, 1, f.vectorCount(t))

	chunks, err := f.corpus.ChunksByDocument(ctx, "d")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkID("d", 0), chunks[0].ID)
	assert.Equal(t, "delta", chunks[0].Content)

	idx, err := f.scopes.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, idx.Search("gamma", 10, nil))
}

func TestCoordinator_Ingest_Validation(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	_, err := c.Ingest(ctx, &store.Document{OwnerID: "alice"}, drafts("x"))
	assert.ErrorIs(t, err, amanerrors.ErrInvalidInput)

	_, err = c.Ingest(ctx, &store.Document{ID: "d"}, drafts("x"))
	assert.ErrorIs(t, err, amanerrors.ErrInvalidInput)

	_, err = c.Ingest(ctx, &store.Document{ID: "d", OwnerID: "alice"}, drafts("x"))
	require.NoError(t, err)
	_, err = c.Ingest(ctx, &store.Document{ID: "d", OwnerID: "bob"}, drafts("y"))
	assert.ErrorIs(t, err, amanerrors.ErrInvalidInput)
}

func TestCoordinator_Ingest_ConcurrentSameDocument(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			contents := make([]string, n+1)
			for j := range contents {
				contents[j] = fmt.Sprintf("version %d part %d", n, j)
			}
			_, err := c.Ingest(ctx, &store.Document{ID: "d", OwnerID: "alice"}, drafts(contents...))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	doc, err := c.Status(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, doc.Status)
	n, err := f.corpus.CountChunks(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkCount, n)
	assert.Equal(t, n, f.vectorCount(t))
	assert.Zero(t, c.locks.len())
}

func TestCoordinator_DeleteDocument(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	_, err := c.Ingest(ctx, &store.Document{ID: "d1", OwnerID: "alice"}, drafts("first words", "more words"))
	require.NoError(t, err)
	_, err = c.Ingest(ctx, &store.Document{ID: "d2", OwnerID: "alice"}, drafts("other words"))
	require.NoError(t, err)

	n, err := c.DeleteDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.vectorCount(t))

	_, err = c.Status(ctx, "d1")
	assert.ErrorIs(t, err, amanerrors.ErrNotFound)

	idx, err := f.scopes.Get(ctx, "alice")
	require.NoError(t, err)
	hits := idx.Search("words", 10, nil)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2", hits[0].DocumentID)

	_, err = c.DeleteDocument(ctx, "d1")
	assert.ErrorIs(t, err, amanerrors.ErrNotFound)
}

func TestCoordinator_DeleteDocument_CorpusFailureKeepsVectors(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	// Given: an ingested document
	_, err := c.Ingest(ctx, &store.Document{ID: "d1", OwnerID: "alice"}, drafts("first words", "more words"))
	require.NoError(t, err)

	// When: the corpus refuses the delete
	failing, err := NewCoordinator(stuckCorpus{f.corpus}, f.vectors, f.scopes, f.embedder, WithOptions(testOptions()))
	require.NoError(t, err)
	defer failing.Close()
	_, err = failing.DeleteDocument(ctx, "d1")

	// Then: nothing was removed
	assert.ErrorIs(t, err, amanerrors.ErrStoreWriteFailed)
	assert.Equal(t, 2, f.vectorCount(t))
	doc, err := c.Status(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, doc.Status)
}

func TestCoordinator_DeleteDocument_VectorFailureStillDeletes(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	_, err := c.Ingest(ctx, &store.Document{ID: "d1", OwnerID: "alice"}, drafts("first words"))
	require.NoError(t, err)

	failing, err := NewCoordinator(f.corpus, stuckVectors{f.vectors}, f.scopes, f.embedder, WithOptions(testOptions()))
	require.NoError(t, err)
	defer failing.Close()
	n, err := failing.DeleteDocument(ctx, "d1")

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = c.Status(ctx, "d1")
	assert.ErrorIs(t, err, amanerrors.ErrNotFound)
}

func TestCoordinator_Ingest_ColdScopeSkipsProcessingDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Given: a document stuck in processing with chunks already stored
	require.NoError(t, f.corpus.SaveDocument(ctx, &store.Document{ID: "d1", OwnerID: "alice", Status: store.StatusProcessing}))
	require.NoError(t, f.corpus.ReplaceChunks(ctx, "d1", []*store.Chunk{
		{ID: ChunkID("d1", 0), DocumentID: "d1", OwnerID: "alice", Content: "unfinished words"},
	}))

	// When: the owner's scope is built from the corpus
	idx, err := f.scopes.Get(ctx, "alice")
	require.NoError(t, err)

	// Then: it holds nothing until the document is ready
	assert.Zero(t, idx.Len())
}

func TestCoordinator_DeleteOwner(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	_, err := c.Ingest(ctx, &store.Document{ID: "a1", OwnerID: "alice"}, drafts("one", "two"))
	require.NoError(t, err)
	_, err = c.Ingest(ctx, &store.Document{ID: "b1", OwnerID: "bob"}, drafts("three"))
	require.NoError(t, err)

	n, err := c.DeleteOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.vectorCount(t))
	assert.False(t, f.scopes.Warm("alice"))

	docs, err := f.corpus.ListDocuments(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = c.DeleteOwner(ctx, " ")
	assert.ErrorIs(t, err, amanerrors.ErrInvalidInput)
}

func TestCoordinator_Progress(t *testing.T) {
	f := newFixture(t)
	var (
		mu     sync.Mutex
		stages []Stage
		last   Progress
	)
	c := f.coordinator(t, nil, WithProgress(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, p.Stage)
		last = p
	}))

	_, err := c.IngestText(context.Background(), &store.Document{ID: "d", OwnerID: "alice"},
		"First paragraph here.\n\nSecond paragraph here.")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StageChunking, stages[0])
	assert.Contains(t, stages, StageEmbedding)
	assert.Contains(t, stages, StageStoring)
	assert.Equal(t, StageReady, last.Stage)
	assert.Equal(t, last.Total, last.Current)
}

func TestNewCoordinator_RequiresDependencies(t *testing.T) {
	f := newFixture(t)
	_, err := NewCoordinator(nil, f.vectors, f.scopes, f.embedder)
	assert.Error(t, err)
	_, err = NewCoordinator(f.corpus, f.vectors, f.scopes, nil)
	assert.Error(t, err)

	opts := DefaultOptions()
	opts.Chunking.Overlap = opts.Chunking.Size
	_, err = NewCoordinator(f.corpus, f.vectors, f.scopes, f.embedder, WithOptions(opts))
	assert.Error(t, err)
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var active, peak atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			defer unlock()
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Zero(t, k.len())
}
