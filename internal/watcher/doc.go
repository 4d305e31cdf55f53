// Package watcher keeps an owner's documents in sync with a directory.
//
// FSWatcher reports debounced batches of file events using fsnotify, or
// periodic scans when fsnotify is unavailable. Syncer applies each batch to
// an ingest coordinator: created and modified files are re-ingested, deleted
// files are removed.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	s := watcher.NewSyncer(coordinator, "alice", root)
//	go func() { _ = w.Start(ctx, root) }()
//	for batch := range w.Events() {
//	    s.Apply(ctx, batch)
//	}
package watcher
