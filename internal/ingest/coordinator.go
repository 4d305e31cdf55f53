// Package ingest turns document text into stored, embedded and indexed chunks.
//
// A document is ingested all-or-nothing: on any failure its chunks are
// removed from every store and its status is set to error with the reason.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// chunkNamespace seeds deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c4a52-8f7e-4d8e-9a51-3b0d2c9e7a10")

// ErrNoContent is the status message for documents that produce no chunks.
const ErrNoContent = "no content to process"

// LexicalScopes receives lexical index updates for warm owner scopes.
type LexicalScopes interface {
	Add(ownerID string, chunks ...*store.Chunk)
	RemoveDocument(ownerID, documentID string)
	Drop(ownerID string)
}

// Coordinator runs document ingestion and deletion across the corpus,
// vector and lexical stores.
type Coordinator struct {
	corpus   store.CorpusStore
	vectors  store.VectorStore
	scopes   LexicalScopes
	embedder embed.Embedder
	chunker  *chunk.Chunker
	pool     *ants.Pool
	locks    *keyedMutex
	opts     Options
	logger   *slog.Logger
	progress ProgressFunc
}

// NewCoordinator creates a coordinator. Close releases its worker pool.
func NewCoordinator(
	corpus store.CorpusStore,
	vectors store.VectorStore,
	scopes LexicalScopes,
	embedder embed.Embedder,
	opts ...Option,
) (*Coordinator, error) {
	if corpus == nil || vectors == nil || scopes == nil || embedder == nil {
		return nil, fmt.Errorf("corpus, vector store, lexical scopes and embedder are required")
	}

	c := &Coordinator{
		corpus:   corpus,
		vectors:  vectors,
		scopes:   scopes,
		embedder: embedder,
		locks:    newKeyedMutex(),
		opts:     DefaultOptions(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.opts.BatchSize <= 0 {
		c.opts.BatchSize = DefaultBatchSize
	}
	if c.opts.Workers <= 0 {
		c.opts.Workers = 1
	}

	chunker, err := chunk.New(c.opts.Chunking)
	if err != nil {
		return nil, fmt.Errorf("invalid chunking options: %w", err)
	}
	c.chunker = chunker

	pool, err := ants.NewPool(c.opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding pool: %w", err)
	}
	c.pool = pool
	return c, nil
}

// Close releases the worker pool.
func (c *Coordinator) Close() {
	c.pool.Release()
}

// ChunkID returns the id of the chunk at sequence within a document.
// Ids are stable so re-ingesting a document upserts the same rows.
func ChunkID(documentID string, sequence int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+":"+strconv.Itoa(sequence))).String()
}

// IngestText chunks text and ingests the result.
func (c *Coordinator) IngestText(ctx context.Context, doc *store.Document, text string) (*store.Document, error) {
	return c.IngestTextWith(ctx, doc, text, c.chunker)
}

// IngestTextWith chunks text with the given chunker and ingests the result.
func (c *Coordinator) IngestTextWith(ctx context.Context, doc *store.Document, text string, chunker *chunk.Chunker) (*store.Document, error) {
	if chunker == nil {
		chunker = c.chunker
	}
	c.report(Progress{DocumentID: doc.ID, Stage: StageChunking})
	drafts, err := chunker.Chunk(text)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeChunkingFailed, "failed to chunk document", err)
	}
	return c.Ingest(ctx, doc, drafts)
}

// ChunkerFor returns a chunker using the configured chunking options with
// strategy overridden. An empty strategy returns the default chunker.
func (c *Coordinator) ChunkerFor(strategy string) (*chunk.Chunker, error) {
	if strategy == "" {
		return c.chunker, nil
	}
	s, err := chunk.ParseStrategy(strategy)
	if err != nil {
		return nil, amanerrors.InvalidInput("strategy", err.Error())
	}
	opts := c.opts.Chunking
	opts.Strategy = s
	return chunk.New(opts)
}

// Ingest stores, embeds and indexes drafts as the chunks of doc.
// The document ends in status ready, or in status error with every partial
// write compensated.
func (c *Coordinator) Ingest(ctx context.Context, doc *store.Document, drafts []chunk.Draft) (*store.Document, error) {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return nil, amanerrors.InvalidInput("document_id", "document id is required")
	}
	if strings.TrimSpace(doc.OwnerID) == "" {
		return nil, amanerrors.InvalidInput("owner_id", "owner id is required")
	}

	unlock := c.locks.Lock(doc.ID)
	defer unlock()

	existing, err := c.corpus.GetDocument(ctx, doc.ID)
	switch {
	case err == nil:
		if existing.OwnerID != doc.OwnerID {
			return nil, amanerrors.InvalidInput("document_id", "document belongs to another owner")
		}
		doc.CreatedAt = existing.CreatedAt
		doc.ChunkCount = existing.ChunkCount
	case amanerrors.GetCode(err) != amanerrors.ErrCodeNotFound:
		return nil, amanerrors.New(amanerrors.ErrCodeStoreWriteFailed, "failed to load document", err)
	}

	doc.Status = store.StatusProcessing
	doc.ErrorMessage = ""
	if err := c.corpus.SaveDocument(ctx, doc); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeStoreWriteFailed, "failed to save document", err)
	}

	start := time.Now()
	if len(drafts) == 0 {
		return nil, c.fail(ctx, doc, amanerrors.New(amanerrors.ErrCodeChunkingFailed, ErrNoContent, nil))
	}

	chunks := c.buildChunks(doc, drafts)
	if err := c.embed(ctx, doc.ID, chunks); err != nil {
		return nil, c.fail(ctx, doc, err)
	}
	if err := c.store(ctx, doc, chunks); err != nil {
		return nil, c.fail(ctx, doc, err)
	}

	doc.Status = store.StatusReady
	doc.ChunkCount = len(chunks)
	if err := c.corpus.SetStatus(ctx, doc.ID, store.StatusReady, ""); err != nil {
		return nil, c.fail(ctx, doc, amanerrors.New(amanerrors.ErrCodeStoreWriteFailed, "failed to mark document ready", err))
	}
	// Scopes only ever hold chunks of ready documents. Add also voids any
	// cold build that read the corpus before the status change.
	c.scopes.Add(doc.OwnerID, chunks...)

	c.report(Progress{DocumentID: doc.ID, Stage: StageReady, Current: len(chunks), Total: len(chunks)})
	c.logger.Info("ingest_completed",
		slog.String("document_id", doc.ID),
		slog.String("owner_id", doc.OwnerID),
		slog.Int("chunks", len(chunks)),
		slog.Duration("elapsed", time.Since(start)))
	return doc, nil
}

func (c *Coordinator) buildChunks(doc *store.Document, drafts []chunk.Draft) []*store.Chunk {
	now := time.Now()
	chunks := make([]*store.Chunk, len(drafts))
	for i, d := range drafts {
		chunks[i] = &store.Chunk{
			ID:         ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			Sequence:   i,
			Content:    d.Content,
			Page:       d.Page,
			Section:    d.Section,
			Metadata:   d.Metadata,
			CreatedAt:  now,
		}
	}
	return chunks
}

// embed fills chunk embeddings batch by batch on the worker pool.
// The first batch error cancels the remaining batches.
func (c *Coordinator) embed(ctx context.Context, docID string, chunks []*store.Chunk) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	c.report(Progress{DocumentID: docID, Stage: StageEmbedding, Total: len(chunks)})
	for batchStart := 0; batchStart < len(chunks); batchStart += c.opts.BatchSize {
		batch := chunks[batchStart:min(batchStart+c.opts.BatchSize, len(chunks))]

		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := c.embedBatch(ctx, batch); err != nil {
				setErr(err)
				return
			}
			mu.Lock()
			done += len(batch)
			current := done
			mu.Unlock()
			c.report(Progress{DocumentID: docID, Stage: StageEmbedding, Current: current, Total: len(chunks)})
		})
		if err != nil {
			wg.Done()
			setErr(fmt.Errorf("failed to schedule embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		var ae *amanerrors.AmanError
		if errors.As(firstErr, &ae) {
			return firstErr
		}
		return amanerrors.New(amanerrors.ErrCodeEmbeddingFailed, "failed to embed chunks", firstErr)
	}
	return nil
}

func (c *Coordinator) embedBatch(ctx context.Context, batch []*store.Chunk) error {
	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Content
	}

	vectors, err := amanerrors.RetryWithResult(ctx, c.opts.Retry, func() ([][]float32, error) {
		return c.embedder.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return err
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
	}

	dims := c.embedder.Dimensions()
	for i, v := range vectors {
		if dims > 0 && len(v) != dims {
			return amanerrors.New(amanerrors.ErrCodeDimensionMismatch, "embedding dimension mismatch",
				&embed.DimensionError{Expected: dims, Got: len(v)})
		}
		batch[i].Embedding = v
	}
	return nil
}

// store writes chunks to the corpus, then the vector store, and drops the
// document's previous chunks from warm lexical scopes.
func (c *Coordinator) store(ctx context.Context, doc *store.Document, chunks []*store.Chunk) error {
	c.report(Progress{DocumentID: doc.ID, Stage: StageStoring, Total: len(chunks)})

	// A previous version with more chunks leaves vectors the upsert would not overwrite.
	if doc.ChunkCount > len(chunks) {
		if _, err := c.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
			return amanerrors.New(amanerrors.ErrCodeStoreWriteFailed, "failed to remove stale vectors", err)
		}
	}

	if err := c.corpus.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return amanerrors.New(amanerrors.ErrCodeStoreWriteFailed, "failed to store chunks", err)
	}
	if _, err := c.vectors.Insert(ctx, chunks); err != nil {
		code := amanerrors.ErrCodeStoreWriteFailed
		if amanerrors.GetCode(err) == amanerrors.ErrCodeDimensionMismatch {
			code = amanerrors.ErrCodeDimensionMismatch
		}
		return amanerrors.New(code, "failed to store vectors", err)
	}

	c.scopes.RemoveDocument(doc.OwnerID, doc.ID)
	return nil
}

// fail compensates partial writes and records the failure on the document.
// It returns cause.
func (c *Coordinator) fail(ctx context.Context, doc *store.Document, cause error) error {
	// Compensation must run even when the caller's context is done.
	ctx = context.WithoutCancel(ctx)

	if _, err := c.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		c.logger.Warn("ingest_compensation_failed",
			slog.String("document_id", doc.ID),
			slog.String("store", "vector"),
			slog.String("error", err.Error()))
	}
	if err := c.corpus.ReplaceChunks(ctx, doc.ID, nil); err != nil {
		c.logger.Warn("ingest_compensation_failed",
			slog.String("document_id", doc.ID),
			slog.String("store", "corpus"),
			slog.String("error", err.Error()))
	}
	c.scopes.RemoveDocument(doc.OwnerID, doc.ID)

	reason := cause.Error()
	var ae *amanerrors.AmanError
	if errors.As(cause, &ae) {
		reason = ae.Message
		if ae.Cause != nil && ae.Cause.Error() != ae.Message {
			reason += ": " + ae.Cause.Error()
		}
	}
	doc.Status = store.StatusError
	doc.ErrorMessage = reason
	doc.ChunkCount = 0
	if err := c.corpus.SetStatus(ctx, doc.ID, store.StatusError, reason); err != nil {
		c.logger.Warn("ingest_status_update_failed",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()))
	}

	c.report(Progress{DocumentID: doc.ID, Stage: StageFailed, Err: cause})
	c.logger.Warn("ingest_failed",
		slog.String("document_id", doc.ID),
		slog.String("owner_id", doc.OwnerID),
		slog.String("error", reason))
	return cause
}

// DeleteDocument removes a document from every store and returns the number
// of chunks removed. The corpus goes first: a failure there leaves the
// document fully searchable, and vectors whose chunks are gone are never
// returned by search.
func (c *Coordinator) DeleteDocument(ctx context.Context, id string) (int, error) {
	if strings.TrimSpace(id) == "" {
		return 0, amanerrors.InvalidInput("document_id", "document id is required")
	}
	unlock := c.locks.Lock(id)
	defer unlock()

	doc, err := c.corpus.GetDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	n, err := c.corpus.DeleteDocument(ctx, id)
	if err != nil {
		return 0, amanerrors.New(amanerrors.ErrCodeStoreWriteFailed, "failed to delete document", err)
	}
	c.scopes.RemoveDocument(doc.OwnerID, id)

	if _, err := c.vectors.DeleteByDocument(context.WithoutCancel(ctx), id); err != nil {
		c.logger.Warn("orphaned_vectors",
			slog.String("document_id", id),
			slog.String("error", err.Error()))
	}

	c.logger.Info("document_deleted",
		slog.String("document_id", id),
		slog.String("owner_id", doc.OwnerID),
		slog.Int("chunks", n))
	return n, nil
}

// DeleteOwner removes every document of an owner and returns the number of
// chunks removed.
func (c *Coordinator) DeleteOwner(ctx context.Context, ownerID string) (int, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, amanerrors.InvalidInput("owner_id", "owner id is required")
	}
	unlock := c.locks.Lock("owner:" + ownerID)
	defer unlock()

	n, err := c.corpus.DeleteOwner(ctx, ownerID)
	if err != nil {
		return 0, amanerrors.New(amanerrors.ErrCodeStoreWriteFailed, "failed to delete owner", err)
	}
	c.scopes.Drop(ownerID)

	if _, err := c.vectors.DeleteByOwner(context.WithoutCancel(ctx), ownerID); err != nil {
		c.logger.Warn("orphaned_vectors",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
	}

	c.logger.Info("owner_deleted", slog.String("owner_id", ownerID), slog.Int("chunks", n))
	return n, nil
}

// Status returns the stored document, including its status and error message.
func (c *Coordinator) Status(ctx context.Context, id string) (*store.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, amanerrors.InvalidInput("document_id", "document id is required")
	}
	return c.corpus.GetDocument(ctx, id)
}

// Documents lists an owner's documents.
func (c *Coordinator) Documents(ctx context.Context, ownerID string) ([]*store.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, amanerrors.InvalidInput("owner_id", "owner id is required")
	}
	return c.corpus.ListDocuments(ctx, ownerID)
}

func (c *Coordinator) report(p Progress) {
	if c.progress != nil {
		c.progress(p)
	}
}
