package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRenderer_PrintsStageTransitions(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))
	require.NoError(t, r.Start(context.Background()))

	// When: one document moves through every stage
	r.UpdateProgress(ProgressEvent{Stage: StageChunking, Document: "handbook"})
	r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Total: 4, Document: "handbook"})
	r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Current: 2, Total: 4, Document: "handbook"})
	r.UpdateProgress(ProgressEvent{Stage: StageStoring, Total: 4, Document: "handbook"})
	r.UpdateProgress(ProgressEvent{Stage: StageStoring, Current: 4, Total: 4, Document: "handbook", Done: 1})

	// Then: intermediate batches are not printed
	assert.Equal(t,
		"[CHUNK] handbook\n"+
			"[EMBED] handbook\n"+
			"[STORE] handbook\n"+
			"[DONE] handbook (4 chunks, 1 documents)\n",
		buf.String())
}

func TestPlainRenderer_NoANSICodes(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	for _, stage := range []Stage{StageChunking, StageEmbedding, StageStoring} {
		r.UpdateProgress(ProgressEvent{Stage: stage, Message: "Processing..."})
	}
	r.Complete(CompletionStats{Documents: 1})

	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_AddError(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.AddError(ErrorEvent{Document: "notes.md", Err: errors.New("no content")})
	r.AddError(ErrorEvent{Err: errors.New("slow"), IsWarn: true})

	assert.Equal(t, "ERROR: notes.md: no content\nWARN: slow\n", buf.String())
}

func TestPlainRenderer_Complete(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing with failures and an embedder
	r.Complete(CompletionStats{
		Documents: 3,
		Chunks:    42,
		Duration:  1500 * time.Millisecond,
		Errors:    1,
		Skipped:   2,
		Embedder:  EmbedderInfo{Model: "nomic-embed-text", Dimensions: 768},
	})

	// Then: the summary is printed
	assert.Equal(t,
		"Complete: 3 documents, 42 chunks ingested in 1.5s (1 errors, 2 skipped)\n"+
			"Embedder: nomic-embed-text (768 dims)\n",
		buf.String())
	assert.NoError(t, r.Stop())
}
