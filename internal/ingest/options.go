package ingest

import (
	"log/slog"
	"runtime"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/config"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// DefaultBatchSize is the number of chunks embedded per provider call.
const DefaultBatchSize = 32

// Stage identifies a step of document ingestion.
type Stage string

const (
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageReady     Stage = "ready"
	StageFailed    Stage = "failed"
)

// Progress is one progress event for a document.
type Progress struct {
	DocumentID string
	Stage      Stage
	Current    int
	Total      int
	Err        error
}

// ProgressFunc receives progress events. It is called from worker goroutines
// and must be safe for concurrent use.
type ProgressFunc func(Progress)

// Options configures a Coordinator.
type Options struct {
	BatchSize int
	Workers   int
	Retry     amanerrors.RetryConfig
	Chunking  chunk.Options

	// MaxFileSize bounds IngestFile input in bytes; 0 disables the check.
	MaxFileSize int64

	// Extensions limits IngestFile and IngestDir to these suffixes; empty accepts all.
	Extensions []string
}

// DefaultOptions returns the defaults used when no configuration is given.
func DefaultOptions() Options {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	return Options{
		BatchSize: DefaultBatchSize,
		Workers:   workers,
		Retry:     amanerrors.DefaultRetryConfig(),
		Chunking: chunk.Options{
			Strategy:   chunk.StrategySemantic,
			Size:       chunk.DefaultSize,
			Overlap:    chunk.DefaultOverlap,
			ExtractTOC: true,
		},
		MaxFileSize: 20 << 20,
		Extensions:  []string{".txt", ".md", ".markdown"},
	}
}

// OptionsFrom converts the chunking, embeddings and ingest sections of the configuration.
func OptionsFrom(cfg *config.Config) (Options, error) {
	opts := DefaultOptions()
	if cfg.Embeddings.BatchSize > 0 {
		opts.BatchSize = cfg.Embeddings.BatchSize
	}
	if cfg.Ingest.Workers > 0 {
		opts.Workers = cfg.Ingest.Workers
	}
	if cfg.Ingest.MaxFileSizeMB > 0 {
		opts.MaxFileSize = int64(cfg.Ingest.MaxFileSizeMB) << 20
	}
	if len(cfg.Ingest.Extensions) > 0 {
		opts.Extensions = cfg.Ingest.Extensions
	}

	strategy, err := chunk.ParseStrategy(cfg.Chunking.Strategy)
	if err != nil {
		return opts, err
	}
	opts.Chunking = chunk.Options{
		Strategy:   strategy,
		Size:       cfg.Chunking.Size,
		Overlap:    cfg.Chunking.Overlap,
		ExtractTOC: cfg.Chunking.ExtractTOC,
	}
	if cfg.Chunking.CountTokens {
		counter, err := chunk.NewTiktokenCounter(cfg.Chunking.TokenEncoding)
		if err != nil {
			return opts, err
		}
		opts.Chunking.Counter = counter
	}
	return opts, nil
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithOptions replaces the coordinator options.
func WithOptions(opts Options) Option {
	return func(c *Coordinator) {
		c.opts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProgress sets a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Coordinator) {
		c.progress = fn
	}
}
