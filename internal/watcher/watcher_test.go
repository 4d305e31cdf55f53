package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		want string
	}{
		{"create", OpCreate, "CREATE"},
		{"modify", OpModify, "MODIFY"},
		{"delete", OpDelete, "DELETE"},
		{"ignore change", OpIgnoreChange, "IGNORE_CHANGE"},
		{"unknown", Operation(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want Options
	}{
		{
			name: "empty options get defaults",
			opts: Options{},
			want: DefaultOptions(),
		},
		{
			name: "custom values preserved",
			opts: Options{DebounceWindow: 50 * time.Millisecond, PollInterval: time.Second, EventBufferSize: 4, ForcePolling: true},
			want: Options{DebounceWindow: 50 * time.Millisecond, PollInterval: time.Second, EventBufferSize: 4, ForcePolling: true},
		},
		{
			name: "negative values replaced",
			opts: Options{DebounceWindow: -1, PollInterval: -1, EventBufferSize: -1},
			want: DefaultOptions(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.WithDefaults())
		})
	}
}

func TestDiffSnapshots(t *testing.T) {
	// Given: two snapshots of a tree
	t0 := time.Unix(1000, 0)
	t1 := time.Unix(2000, 0)
	prev := map[string]fileSnapshot{
		"keep.md":    {modTime: t0, size: 10},
		"edited.md":  {modTime: t0, size: 10},
		"gone.md":    {modTime: t0, size: 10},
		"docs":       {modTime: t0, isDir: true},
		"docs/a.txt": {modTime: t0, size: 1},
	}
	cur := map[string]fileSnapshot{
		"keep.md":    {modTime: t0, size: 10},
		"edited.md":  {modTime: t1, size: 12},
		"new.md":     {modTime: t1, size: 3},
		"docs":       {modTime: t1, isDir: true},
		"docs/a.txt": {modTime: t0, size: 1},
	}

	// When: diffing them
	events := diffSnapshots(prev, cur)

	// Then: only real changes are reported; directory mtime alone is not a change
	got := make(map[string]Operation, len(events))
	for _, e := range events {
		got[e.Path] = e.Operation
	}
	assert.Equal(t, map[string]Operation{
		"edited.md": OpModify,
		"new.md":    OpCreate,
		"gone.md":   OpDelete,
	}, got)
}

func TestSnapshotTree_SkipsIgnoredDirectories(t *testing.T) {
	// Given: a tree with a skipped directory
	root := t.TempDir()
	writeFile(t, root, "a.md", "a")
	writeFile(t, root, "skip/b.md", "b")

	// When: snapshotting with a skip rule for that directory
	state := snapshotTree(root, func(rel string, isDir bool) bool {
		return isDir && rel == "skip"
	})

	// Then: nothing under it is recorded
	assert.Contains(t, state, "a.md")
	assert.NotContains(t, state, "skip")
	assert.NotContains(t, state, "skip/b.md")
}

func TestFSWatcher_Start_RejectsFileRoot(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "file.md", "x")

	w, err := New(Options{ForcePolling: true})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), path)
	require.Error(t, err)
}

func TestFSWatcher_Polling_ReportsChanges(t *testing.T) {
	// Given: a polling watcher over a tree with an ignore file
	root := t.TempDir()
	writeFile(t, root, ".amanragignore", "drafts/\n")
	existing := writeFile(t, root, "existing.md", "before")

	w, err := New(Options{
		ForcePolling:   true,
		PollInterval:   20 * time.Millisecond,
		DebounceWindow: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "polling", w.Mode())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, root) }()

	// Give the watcher time to take its first snapshot.
	time.Sleep(60 * time.Millisecond)

	// When: a file is created, one is edited, and one lands in an ignored dir
	writeFile(t, root, "added.md", "new")
	writeFile(t, root, "drafts/hidden.md", "secret")
	require.NoError(t, os.WriteFile(existing, []byte("after, and longer"), 0o644))

	// Then: create and modify are reported and the ignored path is not
	got := collectEvents(t, w, 2, 2*time.Second)
	assert.Equal(t, OpCreate, got["added.md"])
	assert.Equal(t, OpModify, got["existing.md"])
	assert.NotContains(t, got, "drafts/hidden.md")

	// When: a file is removed
	require.NoError(t, os.Remove(filepath.Join(root, "added.md")))

	// Then: a delete is reported
	got = collectEvents(t, w, 1, 2*time.Second)
	assert.Equal(t, OpDelete, got["added.md"])

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestFSWatcher_Stop_Idempotent(t *testing.T) {
	w, err := New(Options{ForcePolling: true})
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Equal(t, uint64(0), w.Dropped())
}

func collectEvents(t *testing.T, w *FSWatcher, want int, timeout time.Duration) map[string]Operation {
	t.Helper()
	got := make(map[string]Operation)
	deadline := time.After(timeout)
	for len(got) < want {
		select {
		case batch := <-w.Events():
			for _, e := range batch {
				got[e.Path] = e.Operation
			}
		case <-deadline:
			t.Fatalf("timeout: got %v, want %d paths", got, want)
		}
	}
	return got
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
