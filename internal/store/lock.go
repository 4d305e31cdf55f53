package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the lock file created inside a data directory.
const LockFileName = ".amanrag.lock"

// DataDirLock is a cross-process exclusive lock on a data directory.
// The file backends (SQLite corpus, HNSW snapshot, Badger) assume one
// process owns the directory at a time.
type DataDirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataDirLock creates a lock for dir. Nothing is acquired yet.
func NewDataDirLock(dir string) *DataDirLock {
	path := filepath.Join(dir, LockFileName)
	return &DataDirLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryLock acquires the lock without blocking. It returns false when another
// process holds it.
func (l *DataDirLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create data directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *DataDirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataDirLock) Path() string {
	return l.path
}

// IsLocked reports whether this process holds the lock.
func (l *DataDirLock) IsLocked() bool {
	return l.locked
}
