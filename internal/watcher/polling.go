package watcher

import (
	"io/fs"
	"path/filepath"
	"time"
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// snapshotTree records the state of every non-ignored path under root.
func snapshotTree(root string, skip func(rel string, isDir bool) bool) map[string]fileSnapshot {
	state := make(map[string]fileSnapshot)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if skip(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		state[rel] = fileSnapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	return state
}

// diffSnapshots returns the events that turn prev into cur.
func diffSnapshots(prev, cur map[string]fileSnapshot) []FileEvent {
	now := time.Now()
	var events []FileEvent
	for rel, s := range cur {
		p, ok := prev[rel]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: rel, Operation: OpCreate, IsDir: s.isDir, Timestamp: now})
		case !s.isDir && (p.modTime != s.modTime || p.size != s.size):
			events = append(events, FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel, s := range prev {
		if _, ok := cur[rel]; !ok {
			events = append(events, FileEvent{Path: rel, Operation: OpDelete, IsDir: s.isDir, Timestamp: now})
		}
	}
	return events
}
