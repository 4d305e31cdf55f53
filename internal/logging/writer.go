package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is an io.Writer over a log file that rolls over once the
// file would exceed maxSize. Backups are named <path>.1 (newest) through
// <path>.<maxFiles> (oldest).
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingWriter opens path for appending, creating its directory.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &RotatingWriter{
		path:     path,
		maxSize:  int64(maxSizeMB) << 20,
		maxFiles: maxFiles,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends p, rotating first when p does not fit. A failed rotation
// keeps writing to the current file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, fs.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "amanrag: log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Sync flushes the current file.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the current file. Later writes fail with fs.ErrClosed.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// rotate shifts every backup one slot older, dropping the oldest, moves the
// live file to <path>.1 and reopens an empty one. Caller holds mu.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil

	var errs []error
	if w.maxFiles > 0 {
		if err := os.Remove(w.backup(w.maxFiles)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
		for n := w.maxFiles - 1; n >= 1; n-- {
			if err := os.Rename(w.backup(n), w.backup(n+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := os.Rename(w.path, w.backup(1)); err != nil {
			errs = append(errs, err)
		}
	} else if err := os.Truncate(w.path, 0); err != nil {
		errs = append(errs, err)
	}

	if err := w.open(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
