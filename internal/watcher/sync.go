package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Indexer is the part of the ingest coordinator the syncer drives.
type Indexer interface {
	IngestFile(ctx context.Context, ownerID, docID, path string) (*store.Document, error)
	DeleteDocument(ctx context.Context, id string) (int, error)
	Documents(ctx context.Context, ownerID string) ([]*store.Document, error)
	Accepts(path string) bool
}

// SyncResult counts what one batch or reconcile did.
type SyncResult struct {
	Ingested int
	Deleted  int
	Failed   int
}

func (r *SyncResult) merge(o SyncResult) {
	r.Ingested += o.Ingested
	r.Deleted += o.Deleted
	r.Failed += o.Failed
}

// Syncer applies file events under root to one owner's documents.
type Syncer struct {
	indexer Indexer
	ownerID string
	root    string
	logger  *slog.Logger

	mu     sync.Mutex
	ignore *ingest.IgnoreMatcher
}

// NewSyncer creates a syncer. A nil logger uses slog.Default.
func NewSyncer(indexer Indexer, ownerID, root string, logger *slog.Logger) (*Syncer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{indexer: indexer, ownerID: ownerID, root: abs, logger: logger}
	if err := s.reloadIgnore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Syncer) reloadIgnore() error {
	m, err := ingest.LoadIgnoreMatcher(s.root)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ignore = m
	s.mu.Unlock()
	return nil
}

func (s *Syncer) ignored(rel string, isDir bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignore.Match(rel, isDir)
}

// Apply processes one batch of events. Failures are logged and counted.
func (s *Syncer) Apply(ctx context.Context, batch []FileEvent) SyncResult {
	var res SyncResult
	for _, ev := range batch {
		if ctx.Err() != nil {
			break
		}
		abs := filepath.Join(s.root, filepath.FromSlash(ev.Path))

		switch ev.Operation {
		case OpIgnoreChange:
			if err := s.reloadIgnore(); err != nil {
				s.logger.Warn("ignore_file_unreadable", slog.String("error", err.Error()))
				res.Failed++
				continue
			}
			r, err := s.Reconcile(ctx)
			if err != nil {
				res.Failed++
			}
			res.merge(r)
		case OpCreate, OpModify:
			if ev.IsDir {
				res.merge(s.ingestTree(ctx, abs))
				continue
			}
			res.merge(s.ingest(ctx, abs))
		case OpDelete:
			res.merge(s.remove(ctx, abs))
		}
	}
	if res != (SyncResult{}) {
		s.logger.Info("watch_batch_applied",
			slog.String("owner_id", s.ownerID),
			slog.Int("events", len(batch)),
			slog.Int("ingested", res.Ingested),
			slog.Int("deleted", res.Deleted),
			slog.Int("failed", res.Failed))
	}
	return res
}

func (s *Syncer) ingest(ctx context.Context, abs string) SyncResult {
	if !s.indexer.Accepts(abs) {
		return SyncResult{}
	}
	if _, err := s.indexer.IngestFile(ctx, s.ownerID, "", abs); err != nil {
		// The file may be gone again by the time the batch is applied.
		if amanerrors.GetCode(err) == amanerrors.ErrCodeFileNotFound {
			return SyncResult{}
		}
		s.logger.Warn("watch_ingest_failed", slog.String("path", abs), slog.String("error", err.Error()))
		return SyncResult{Failed: 1}
	}
	return SyncResult{Ingested: 1}
}

func (s *Syncer) ingestTree(ctx context.Context, dir string) SyncResult {
	var res SyncResult
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, _ := filepath.Rel(s.root, path)
		if s.ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			res.merge(s.ingest(ctx, path))
		}
		return nil
	})
	return res
}

// remove deletes the document for abs, or every document under abs when it
// was a directory.
func (s *Syncer) remove(ctx context.Context, abs string) SyncResult {
	_, err := s.indexer.DeleteDocument(ctx, ingest.DocumentIDForPath(s.ownerID, abs))
	if err == nil {
		return SyncResult{Deleted: 1}
	}
	if amanerrors.GetCode(err) != amanerrors.ErrCodeNotFound {
		s.logger.Warn("watch_delete_failed", slog.String("path", abs), slog.String("error", err.Error()))
		return SyncResult{Failed: 1}
	}

	docs, err := s.indexer.Documents(ctx, s.ownerID)
	if err != nil {
		return SyncResult{Failed: 1}
	}
	var res SyncResult
	prefix := abs + string(filepath.Separator)
	for _, d := range docs {
		if strings.HasPrefix(d.Source, prefix) {
			res.merge(s.deleteDoc(ctx, d))
		}
	}
	return res
}

func (s *Syncer) deleteDoc(ctx context.Context, d *store.Document) SyncResult {
	if _, err := s.indexer.DeleteDocument(ctx, d.ID); err != nil && amanerrors.GetCode(err) != amanerrors.ErrCodeNotFound {
		s.logger.Warn("watch_delete_failed", slog.String("document_id", d.ID), slog.String("error", err.Error()))
		return SyncResult{Failed: 1}
	}
	return SyncResult{Deleted: 1}
}

// Reconcile brings the owner's documents under root in line with the tree:
// documents whose file is gone or now ignored are deleted, and files that
// are new or modified since their last ingest are ingested.
func (s *Syncer) Reconcile(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	docs, err := s.indexer.Documents(ctx, s.ownerID)
	if err != nil {
		return res, err
	}

	known := make(map[string]*store.Document, len(docs))
	prefix := s.root + string(filepath.Separator)
	for _, d := range docs {
		if !strings.HasPrefix(d.Source, prefix) {
			continue
		}
		rel, _ := filepath.Rel(s.root, d.Source)
		if _, statErr := os.Stat(d.Source); statErr != nil || s.ignored(rel, false) || !s.indexer.Accepts(d.Source) {
			res.merge(s.deleteDoc(ctx, d))
			continue
		}
		known[d.Source] = d
	}

	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.root, path)
		if s.ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !s.indexer.Accepts(path) {
			return nil
		}
		if doc, ok := known[path]; ok && doc.Status == store.StatusReady {
			if info, err := d.Info(); err == nil && !info.ModTime().After(doc.UpdatedAt) {
				return nil
			}
		}
		res.merge(s.ingest(ctx, path))
		return nil
	})
	return res, err
}
