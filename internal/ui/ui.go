// Package ui renders ingest progress and search output in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/amanrag/internal/ingest"
)

// Stage represents an ingest stage.
type Stage int

const (
	// StageScanning is the directory walk before any document is read.
	StageScanning Stage = iota
	// StageChunking splits a document into chunks.
	StageChunking
	// StageEmbedding embeds a document's chunks.
	StageEmbedding
	// StageStoring writes chunks, vectors and the lexical index.
	StageStoring
	// StageComplete indicates ingest is complete.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageChunking:
		return "Chunking"
	case StageEmbedding:
		return "Embedding"
	case StageStoring:
		return "Storing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage icon for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageChunking:
		return "CHUNK"
	case StageEmbedding:
		return "EMBED"
	case StageStoring:
		return "STORE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// StageFor maps an ingest stage to its display stage. Ready and failed
// documents count as stored.
func StageFor(s ingest.Stage) Stage {
	switch s {
	case ingest.StageChunking:
		return StageChunking
	case ingest.StageEmbedding:
		return StageEmbedding
	default:
		return StageStoring
	}
}

// ProgressEvent represents a progress update for one document.
type ProgressEvent struct {
	Stage    Stage
	Current  int // chunks handled in this stage
	Total    int // chunks in the document, 0 when unknown
	Document string
	Done     int // documents finished so far
	Message  string
}

// ErrorEvent represents a document that failed or was skipped.
type ErrorEvent struct {
	Document string
	Err      error
	IsWarn   bool
}

// EmbedderInfo describes the embedder used for an ingest.
type EmbedderInfo struct {
	Model      string
	Dimensions int
}

// CompletionStats contains final ingest statistics.
type CompletionStats struct {
	Documents int
	Chunks    int
	Duration  time.Duration
	Errors    int
	Skipped   int
	Embedder  EmbedderInfo
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Source     string // directory or file shown in the header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithSource sets the path shown in the header.
func WithSource(path string) ConfigOption {
	return func(c *Config) {
		c.Source = path
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// renderer for CI, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
