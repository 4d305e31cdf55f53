package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Key layout. Parts are joined with NUL so ids may contain any printable character.
const (
	docPrefix        = "doc"
	chunkPrefix      = "chk"
	docChunkPrefix   = "dchk" // document id, sequence -> chunk id
	ownerChunkPrefix = "ochk" // owner id, insert order -> chunk id
	ownerDocPrefix   = "odoc" // owner id, document id -> ""
	insertSeqKey     = "seq:chunk"

	keySep = "\x00"
)

func makeKey(parts ...string) []byte {
	return []byte(strings.Join(parts, keySep))
}

func makePrefix(parts ...string) []byte {
	return []byte(strings.Join(parts, keySep) + keySep)
}

// BadgerCorpus implements CorpusStore on BadgerDB.
type BadgerCorpus struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
}

var _ CorpusStore = (*BadgerCorpus)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// badgerChunk is the stored form of a chunk.
type badgerChunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	OwnerID    string            `json:"owner_id"`
	Sequence   int               `json:"sequence_index"`
	Content    string            `json:"content"`
	Page       *int              `json:"page_number,omitempty"`
	Section    string            `json:"section,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	InsertSeq  uint64            `json:"insert_seq"`
}

// NewBadgerCorpus opens a corpus in dir. Empty dir creates an in-memory corpus.
func NewBadgerCorpus(dir string) (*BadgerCorpus, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger corpus: %w", err)
	}
	seq, err := db.GetSequence([]byte(insertSeqKey), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open chunk sequence: %w", err)
	}
	return &BadgerCorpus{db: db, seq: seq, logger: slog.Default()}, nil
}

func (b *BadgerCorpus) withTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.db.IsClosed() {
		return fmt.Errorf("corpus is closed")
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	if isWrite {
		return tx.Commit()
	}
	return nil
}

func getJSON(tx *badger.Txn, key []byte, v any) error {
	item, err := tx.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(tx *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Set(key, data)
}

// SaveDocument inserts or updates a document.
func (b *BadgerCorpus) SaveDocument(ctx context.Context, doc *Document) error {
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = StatusPending
	}

	return b.withTx(func(tx *badger.Txn) error {
		var prev Document
		err := getJSON(tx, makeKey(docPrefix, doc.ID), &prev)
		switch {
		case err == nil:
			if prev.OwnerID != doc.OwnerID {
				if err := tx.Delete(makeKey(ownerDocPrefix, prev.OwnerID, doc.ID)); err != nil {
					return err
				}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := setJSON(tx, makeKey(docPrefix, doc.ID), doc); err != nil {
			return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
		}
		return tx.Set(makeKey(ownerDocPrefix, doc.OwnerID, doc.ID), nil)
	}, true)
}

// GetDocument returns a document or a NotFound error.
func (b *BadgerCorpus) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := b.withTx(func(tx *badger.Txn) error {
		return getJSON(tx, makeKey(docPrefix, id), &doc)
	}, false)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, amanerrors.NotFound("document", id)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// SetStatus updates a document's status and error message.
func (b *BadgerCorpus) SetStatus(ctx context.Context, id string, status DocumentStatus, message string) error {
	err := b.withTx(func(tx *badger.Txn) error {
		var doc Document
		if err := getJSON(tx, makeKey(docPrefix, id), &doc); err != nil {
			return err
		}
		doc.Status = status
		doc.ErrorMessage = message
		doc.UpdatedAt = time.Now()
		return setJSON(tx, makeKey(docPrefix, id), &doc)
	}, true)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return amanerrors.NotFound("document", id)
	}
	return err
}

// ListDocuments returns an owner's documents, oldest first.
func (b *BadgerCorpus) ListDocuments(ctx context.Context, ownerID string) ([]*Document, error) {
	var docs []*Document
	err := b.withTx(func(tx *badger.Txn) error {
		ids := scanKeys(tx, makePrefix(ownerDocPrefix, ownerID))
		for _, id := range ids {
			var doc Document
			if err := getJSON(tx, makeKey(docPrefix, id), &doc); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			docs = append(docs, &doc)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

// scanKeys returns the last key part of every key under prefix.
func scanKeys(tx *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var out []string
	for iter.Rewind(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Item().Key()[len(prefix):]))
	}
	return out
}

// scanValues returns the values of every key under prefix, in key order.
func scanValues(tx *badger.Txn, prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var out []string
	for iter.Rewind(); iter.Valid(); iter.Next() {
		val, err := iter.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, string(val))
	}
	return out, nil
}

func seqKey(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

// ReplaceChunks atomically replaces a document's chunks and updates its chunk count.
func (b *BadgerCorpus) ReplaceChunks(ctx context.Context, documentID string, chunks []*Chunk) error {
	records := make([]badgerChunk, len(chunks))
	now := time.Now()
	for i, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to document %s, not %s", c.ID, c.DocumentID, documentID)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		n, err := b.seq.Next()
		if err != nil {
			return fmt.Errorf("failed to allocate chunk sequence: %w", err)
		}
		records[i] = badgerChunk{
			ID: c.ID, DocumentID: c.DocumentID, OwnerID: c.OwnerID, Sequence: c.Sequence,
			Content: c.Content, Page: c.Page, Section: c.Section, Metadata: c.Metadata,
			CreatedAt: c.CreatedAt, InsertSeq: n,
		}
	}

	return b.withTx(func(tx *badger.Txn) error {
		var doc Document
		if err := getJSON(tx, makeKey(docPrefix, documentID), &doc); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return amanerrors.NotFound("document", documentID)
			}
			return err
		}

		if _, err := b.deleteDocumentChunks(tx, documentID); err != nil {
			return err
		}

		for _, r := range records {
			if err := setJSON(tx, makeKey(chunkPrefix, r.ID), r); err != nil {
				return fmt.Errorf("failed to write chunk %s: %w", r.ID, err)
			}
			if err := tx.Set(makeKey(docChunkPrefix, documentID, fmt.Sprintf("%010d", r.Sequence)), []byte(r.ID)); err != nil {
				return err
			}
			if err := tx.Set(makeKey(ownerChunkPrefix, r.OwnerID, seqKey(r.InsertSeq)), []byte(r.ID)); err != nil {
				return err
			}
		}

		doc.ChunkCount = len(records)
		doc.UpdatedAt = now
		return setJSON(tx, makeKey(docPrefix, documentID), &doc)
	}, true)
}

// deleteDocumentChunks removes a document's chunks and index keys inside tx.
func (b *BadgerCorpus) deleteDocumentChunks(tx *badger.Txn, documentID string) (int, error) {
	prefix := makePrefix(docChunkPrefix, documentID)
	ids, err := scanValues(tx, prefix)
	if err != nil {
		return 0, err
	}
	seqs := scanKeys(tx, prefix)

	for i, id := range ids {
		var r badgerChunk
		if err := getJSON(tx, makeKey(chunkPrefix, id), &r); err == nil {
			if err := tx.Delete(makeKey(ownerChunkPrefix, r.OwnerID, seqKey(r.InsertSeq))); err != nil {
				return 0, err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return 0, err
		}
		if err := tx.Delete(makeKey(chunkPrefix, id)); err != nil {
			return 0, err
		}
		if err := tx.Delete(makeKey(docChunkPrefix, documentID, seqs[i])); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (r badgerChunk) toChunk() *Chunk {
	return &Chunk{
		ID: r.ID, DocumentID: r.DocumentID, OwnerID: r.OwnerID, Sequence: r.Sequence,
		Content: r.Content, Page: r.Page, Section: r.Section, Metadata: r.Metadata,
		CreatedAt: r.CreatedAt,
	}
}

// GetChunk returns a chunk or a NotFound error.
func (b *BadgerCorpus) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	var r badgerChunk
	err := b.withTx(func(tx *badger.Txn) error {
		return getJSON(tx, makeKey(chunkPrefix, id), &r)
	}, false)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, amanerrors.NotFound("chunk", id)
	}
	if err != nil {
		return nil, err
	}
	return r.toChunk(), nil
}

// GetChunks returns the chunks that exist among ids, in the order of ids.
func (b *BadgerCorpus) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	return b.readChunks(func(tx *badger.Txn) ([]string, error) { return ids, nil })
}

// ChunksByOwner returns the chunks of an owner's ready documents in insertion order.
func (b *BadgerCorpus) ChunksByOwner(ctx context.Context, ownerID string) ([]*Chunk, error) {
	chunks, err := b.readChunks(func(tx *badger.Txn) ([]string, error) {
		return scanValues(tx, makePrefix(ownerChunkPrefix, ownerID))
	})
	if err != nil || len(chunks) == 0 {
		return chunks, err
	}

	ready := make(map[string]bool)
	err = b.withTx(func(tx *badger.Txn) error {
		for _, c := range chunks {
			if _, seen := ready[c.DocumentID]; seen {
				continue
			}
			var doc Document
			err := getJSON(tx, makeKey(docPrefix, c.DocumentID), &doc)
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			ready[c.DocumentID] = err == nil && doc.Status == StatusReady
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	out := chunks[:0]
	for _, c := range chunks {
		if ready[c.DocumentID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// ChunksByDocument returns a document's chunks ordered by sequence index.
func (b *BadgerCorpus) ChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	return b.readChunks(func(tx *badger.Txn) ([]string, error) {
		return scanValues(tx, makePrefix(docChunkPrefix, documentID))
	})
}

func (b *BadgerCorpus) readChunks(idsFn func(tx *badger.Txn) ([]string, error)) ([]*Chunk, error) {
	var chunks []*Chunk
	err := b.withTx(func(tx *badger.Txn) error {
		ids, err := idsFn(tx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var r badgerChunk
			if err := getJSON(tx, makeKey(chunkPrefix, id), &r); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			chunks = append(chunks, r.toChunk())
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// CountChunks counts a document's chunks.
func (b *BadgerCorpus) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := b.withTx(func(tx *badger.Txn) error {
		n = len(scanKeys(tx, makePrefix(docChunkPrefix, documentID)))
		return nil
	}, false)
	return n, err
}

// DeleteDocument removes a document and its chunks.
func (b *BadgerCorpus) DeleteDocument(ctx context.Context, id string) (int, error) {
	var n int
	err := b.withTx(func(tx *badger.Txn) error {
		var err error
		n, err = b.deleteDocument(tx, id)
		return err
	}, true)
	return n, err
}

func (b *BadgerCorpus) deleteDocument(tx *badger.Txn, id string) (int, error) {
	var doc Document
	if err := getJSON(tx, makeKey(docPrefix, id), &doc); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := b.deleteDocumentChunks(tx, id)
	if err != nil {
		return 0, err
	}
	if err := tx.Delete(makeKey(ownerDocPrefix, doc.OwnerID, id)); err != nil {
		return 0, err
	}
	return n, tx.Delete(makeKey(docPrefix, id))
}

// DeleteOwner removes an owner's documents and chunks.
func (b *BadgerCorpus) DeleteOwner(ctx context.Context, ownerID string) (int, error) {
	var total int
	err := b.withTx(func(tx *badger.Txn) error {
		for _, id := range scanKeys(tx, makePrefix(ownerDocPrefix, ownerID)) {
			n, err := b.deleteDocument(tx, id)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	}, true)
	return total, err
}

// Close releases the sequence and closes the database.
func (b *BadgerCorpus) Close() error {
	if b.db.IsClosed() {
		return nil
	}
	if err := b.seq.Release(); err != nil {
		b.logger.Warn("badger_sequence_release_failed", slog.String("error", err.Error()))
	}
	return b.db.Close()
}
