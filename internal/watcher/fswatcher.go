package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/amanrag/internal/ingest"
)

// FSWatcher watches a directory tree with fsnotify, falling back to polling
// when fsnotify cannot be initialized. Paths matched by the ingest ignore
// rules are never reported.
type FSWatcher struct {
	opts      Options
	fsw       *fsnotify.Watcher
	polling   bool
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	stopOnce  sync.Once
	dropped   atomic.Uint64

	mu     sync.RWMutex
	root   string
	ignore *ingest.IgnoreMatcher
}

// New creates a watcher. It does not watch anything until Start.
func New(opts Options) (*FSWatcher, error) {
	opts = opts.WithDefaults()
	w := &FSWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		ignore:    ingest.NewIgnoreMatcher(),
		polling:   opts.ForcePolling,
	}
	if !w.polling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
			w.polling = true
		} else {
			w.fsw = fsw
		}
	}
	return w, nil
}

// Mode returns "fsnotify" or "polling".
func (w *FSWatcher) Mode() string {
	if w.polling {
		return "polling"
	}
	return "fsnotify"
}

// Start watches root until ctx is done or Stop is called. It blocks.
func (w *FSWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", abs)
	}

	w.mu.Lock()
	w.root = abs
	w.mu.Unlock()
	w.reloadIgnore()

	go w.forward(ctx)

	if w.polling {
		return w.runPolling(ctx)
	}
	return w.runFsnotify(ctx)
}

func (w *FSWatcher) runFsnotify(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *FSWatcher) runPolling(ctx context.Context) error {
	state := snapshotTree(w.root, w.ignored)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			next := snapshotTree(w.root, w.ignored)
			for _, ev := range diffSnapshots(state, next) {
				w.add(ev)
			}
			state = next
		}
	}
}

// handle converts one fsnotify event.
func (w *FSWatcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir && !w.ignored(rel, true) {
			if err := w.addRecursive(ev.Name); err != nil {
				w.emitError(err)
			}
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// A rename reports the old name; the new name arrives as a create.
		op = OpDelete
	default:
		return
	}

	w.add(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// add filters an event and hands it to the debouncer.
func (w *FSWatcher) add(ev FileEvent) {
	if filepath.Base(ev.Path) == ingest.IgnoreFile {
		w.reloadIgnore()
		w.debouncer.Add(FileEvent{Path: ev.Path, Operation: OpIgnoreChange, Timestamp: ev.Timestamp})
		return
	}
	if w.ignored(ev.Path, ev.IsDir) {
		return
	}
	w.debouncer.Add(ev)
}

func (w *FSWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		if rel != "." && w.ignored(filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *FSWatcher) ignored(rel string, isDir bool) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ignore.Match(rel, isDir)
}

func (w *FSWatcher) reloadIgnore() {
	w.mu.RLock()
	root := w.root
	w.mu.RUnlock()

	m, err := ingest.LoadIgnoreMatcher(root)
	if err != nil {
		slog.Warn("ignore_file_unreadable", slog.String("root", root), slog.String("error", err.Error()))
		return
	}
	w.mu.Lock()
	w.ignore = m
	w.mu.Unlock()
}

// forward moves debounced batches to the consumer.
func (w *FSWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			select {
			case w.events <- batch:
			case <-w.stopCh:
				return
			default:
				n := w.dropped.Add(1)
				slog.Warn("watch_batch_dropped",
					slog.Int("batch_size", len(batch)),
					slog.Uint64("total_dropped", n))
			}
		}
	}
}

func (w *FSWatcher) emitError(err error) {
	select {
	case <-w.stopCh:
	case w.errors <- err:
	default:
	}
}

// Dropped returns the number of batches dropped because the consumer fell behind.
func (w *FSWatcher) Dropped() uint64 {
	return w.dropped.Load()
}

// Events returns debounced event batches.
func (w *FSWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors.
func (w *FSWatcher) Errors() <-chan error {
	return w.errors
}

// Stop stops watching and releases resources. Safe to call multiple times.
// The event and error channels are left open; consumers select on their own
// context.
func (w *FSWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.debouncer.Stop()
		if w.fsw != nil {
			err = w.fsw.Close()
		}
	})
	return err
}
