package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// documentNamespace seeds document ids derived from file paths.
var documentNamespace = uuid.MustParse("0b6f9a3e-2d41-4c7b-8e15-9f2a7c5d3e61")

// DocumentIDForPath returns the id of the document ingested from path for owner.
// The same absolute path always maps to the same document.
func DocumentIDForPath(ownerID, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return uuid.NewSHA1(documentNamespace, []byte(ownerID+"\x00"+filepath.ToSlash(abs))).String()
}

// Accepts reports whether path has one of the configured extensions.
func (c *Coordinator) Accepts(path string) bool {
	if len(c.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.opts.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// IngestFile reads a UTF-8 text file and ingests it. An empty docID derives
// one from the path.
func (c *Coordinator) IngestFile(ctx context.Context, ownerID, docID, path string) (*store.Document, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeFileNotFound, "failed to stat file", err).
			WithDetail("path", path)
	}
	if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
		return nil, amanerrors.InvalidInput("path", "not a regular file: "+path)
	}
	if c.opts.MaxFileSize > 0 && info.Size() > c.opts.MaxFileSize {
		return nil, amanerrors.New(amanerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), c.opts.MaxFileSize), nil).
			WithDetail("path", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeFileNotFound, "failed to read file", err).
			WithDetail("path", path)
	}
	if isBinary(content) {
		return nil, amanerrors.InvalidInput("path", "binary or non UTF-8 file: "+path)
	}

	if docID == "" {
		docID = DocumentIDForPath(ownerID, path)
	}
	abs, _ := filepath.Abs(path)
	doc := &store.Document{
		ID:       docID,
		OwnerID:  ownerID,
		Name:     filepath.Base(path),
		Source:   abs,
		Metadata: map[string]string{"filename": filepath.Base(path)},
	}
	return c.IngestText(ctx, doc, string(content))
}

// DirResult summarizes an IngestDir run.
type DirResult struct {
	Ingested []*store.Document
	Failed   map[string]error
	Skipped  int
}

// IngestDir ingests every accepted file under root, honoring IgnoreFile.
// Per-file failures are collected; the walk stops only on context cancellation.
func (c *Coordinator) IngestDir(ctx context.Context, ownerID, root string) (*DirResult, error) {
	ignore, err := LoadIgnoreMatcher(root)
	if err != nil {
		return nil, err
	}

	res := &DirResult{Failed: make(map[string]error)}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			res.Failed[path] = walkErr
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if ignore.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			res.Skipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !c.Accepts(path) {
			res.Skipped++
			return nil
		}

		doc, err := c.IngestFile(ctx, ownerID, "", path)
		if err != nil {
			c.logger.Warn("ingest_file_failed", slog.String("path", path), slog.String("error", err.Error()))
			res.Failed[path] = err
			return nil
		}
		res.Ingested = append(res.Ingested, doc)
		return nil
	})
	return res, err
}

// isBinary reports NUL bytes in the first 512 bytes or invalid UTF-8.
func isBinary(content []byte) bool {
	head := content[:min(len(content), 512)]
	for _, b := range head {
		if b == 0 {
			return true
		}
	}
	return !utf8.Valid(content)
}
