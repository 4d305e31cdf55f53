package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

const handbook = `# Returns

The refund policy allows returns within thirty days of purchase.
Refunds are issued to the original payment method.

# Shipping

Orders ship from the central warehouse within two business days.
`

// newProject creates a project directory isolated from the user's config.
func newProject(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return t.TempDir()
}

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--dir", dir, "--no-color"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"ingest", "search", "citation", "delete", "stats", "serve", "watch", "config", "version"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestCLI_IngestSearchCitationDelete(t *testing.T) {
	// Given: a project with one markdown document
	dir := newProject(t)
	writeDoc(t, dir, "docs/handbook.md", handbook)

	// When: ingesting the docs directory
	out, err := runCLI(t, dir, "ingest", filepath.Join(dir, "docs"), "--owner", "acme", "--plain")

	// Then: one document is reported complete
	require.NoError(t, err, out)
	assert.Contains(t, out, "Complete: 1 documents")

	// When: searching for a phrase from the document
	out, err = runCLI(t, dir, "search", "refund policy", "--owner", "acme", "--json")
	require.NoError(t, err, out)

	// Then: the document is found
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	assert.Equal(t, "handbook.md", top.DocumentName)
	assert.Contains(t, top.Content, "refund")

	// When: resolving the top chunk as a citation
	out, err = runCLI(t, dir, "citation", top.ChunkID, "--owner", "acme", "--json")
	require.NoError(t, err, out)

	// Then: it carries the chunk text and position
	var detail search.CitationDetail
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, top.ChunkID, detail.ChunkID)
	assert.Equal(t, top.Content, detail.Content)
	assert.GreaterOrEqual(t, detail.TotalChunks, 1)

	// And: another owner cannot resolve it
	_, err = runCLI(t, dir, "citation", top.ChunkID, "--owner", "globex")
	require.Error(t, err)

	// When: reading the owner's stats
	out, err = runCLI(t, dir, "stats", "--owner", "acme", "--json")
	require.NoError(t, err, out)
	var stats search.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Ready)
	assert.Equal(t, "hnsw", stats.Vector.Backend)

	// When: deleting the owner
	out, err = runCLI(t, dir, "delete", "owner", "acme")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted owner acme")

	// Then: nothing is found anymore
	out, err = runCLI(t, dir, "search", "refund policy", "--owner", "acme")
	require.NoError(t, err, out)
	assert.Contains(t, out, `No results for "refund policy"`)
}

func TestCLI_Ingest_SingleFileWithDocID(t *testing.T) {
	dir := newProject(t)
	path := writeDoc(t, dir, "notes.md", handbook)

	out, err := runCLI(t, dir, "ingest", path, "--owner", "acme", "--doc-id", "notes-v1", "--plain")
	require.NoError(t, err, out)
	assert.Contains(t, out, "[DONE] notes-v1")

	out, err = runCLI(t, dir, "delete", "document", "notes-v1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted document notes-v1")
}

func TestCLI_Ingest_Errors(t *testing.T) {
	dir := newProject(t)
	docs := filepath.Join(dir, "docs")
	writeDoc(t, docs, "a.md", handbook)
	image := writeDoc(t, dir, "image.png", "not really an image")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing path", []string{"ingest", filepath.Join(dir, "nope.md")}, "cannot ingest"},
		{"doc id on directory", []string{"ingest", docs, "--doc-id", "x"}, "single file"},
		{"unsupported extension", []string{"ingest", image}, "unsupported file type"},
		{"invalid strategy", []string{"ingest", docs, "--strategy", "sentences"}, "strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, dir, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCLI_Search_InvalidMode(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "search", "anything", "--mode", "fuzzy")

	require.Error(t, err)
}

func TestCLI_Citation_ContextOutOfRange(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "citation", "some-chunk", "--context", "4")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--context")
}

func TestCLI_DataDirInUse(t *testing.T) {
	// Given: another process holds the data directory
	dir := newProject(t)
	lock := store.NewDataDirLock(filepath.Join(dir, ".amanrag"))
	ok, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = lock.Unlock() }()

	// When: running a command that opens the stores
	_, err = runCLI(t, dir, "stats")

	// Then: it refuses instead of corrupting the stores
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")
}

func TestCLI_Serve_UnknownTransport(t *testing.T) {
	dir := newProject(t)

	_, err := runCLI(t, dir, "serve", "--transport", "grpc")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestCLI_Config_InitShowPath(t *testing.T) {
	dir := newProject(t)

	out, err := runCLI(t, dir, "config", "init")
	require.NoError(t, err, out)
	assert.FileExists(t, filepath.Join(dir, ".amanrag.yaml"))

	_, err = runCLI(t, dir, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = runCLI(t, dir, "config", "init", "--force")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "config", "show")
	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Contains(t, shown, "chunking")
	assert.NotContains(t, out, "api_key")

	out, err = runCLI(t, dir, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, ".amanrag.yaml")
}

func TestCLI_ProjectConfigApplies(t *testing.T) {
	// Given: a project config selecting the badger corpus and sqlite vectors
	dir := newProject(t)
	writeDoc(t, dir, ".amanrag.yaml", "corpus:\n  backend: badger\nvector:\n  backend: sqlite\n")
	path := writeDoc(t, dir, "docs/handbook.md", handbook)

	// When: ingesting and reading stats
	out, err := runCLI(t, dir, "ingest", path, "--owner", "acme", "--plain")
	require.NoError(t, err, out)
	out, err = runCLI(t, dir, "stats", "--json")
	require.NoError(t, err, out)

	// Then: the configured backends served the request
	var stats search.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "sqlite", stats.Vector.Backend)
	assert.Positive(t, stats.Vector.EntityCount)
	assert.DirExists(t, filepath.Join(dir, ".amanrag", "corpus.badger"))
}
