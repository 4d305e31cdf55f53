package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer. Only stage transitions and finished
// documents are printed; per-batch embedding updates would flood a log.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := event.Message
	if msg == "" {
		msg = event.Document
	}

	switch {
	case event.Stage == StageStoring && event.Total > 0 && event.Current == event.Total:
		_, _ = fmt.Fprintf(r.out, "[DONE] %s (%d chunks, %d documents)\n", msg, event.Total, event.Done)
	case event.Current == 0 && msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.Document != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Document, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d documents, %d chunks ingested in %s",
		stats.Documents, stats.Chunks, stats.Duration.Round(100*time.Millisecond))
	if stats.Errors > 0 || stats.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d skipped)", stats.Errors, stats.Skipped)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%d dims)\n", stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
