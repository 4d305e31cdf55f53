package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/ui"
)

// ingestOptions holds CLI flags for ingest.
type ingestOptions struct {
	owner    string
	docID    string
	strategy string
	plain    bool
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file|dir>",
		Short: "Chunk, embed and index documents",
		Long: `Ingest a file or every accepted file under a directory.

Documents are chunked, embedded and written to the corpus, vector and
keyword indexes. Re-ingesting a document replaces its previous chunks.
Files matching .amanragignore are skipped.

Examples:
  amanrag ingest ./handbook.md --owner acme
  amanrag ingest ./docs --owner acme
  amanrag ingest notes.txt --doc-id notes-v2 --strategy fixed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, root, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.owner, "owner", "o", DefaultOwner, "Owner scope the documents belong to")
	cmd.Flags().StringVar(&opts.docID, "doc-id", "", "Document id for a single file (default: derived from the path)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "Chunking strategy override: fixed, semantic, recursive, page_aware")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Force plain text progress output")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, opts ingestOptions) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot ingest %s: %w", path, err)
	}
	if info.IsDir() && opts.docID != "" {
		return fmt.Errorf("--doc-id applies to a single file, %s is a directory", path)
	}

	cfg := root.cfg
	if opts.strategy != "" {
		cfg.Chunking.Strategy = opts.strategy
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(root.noColor),
		ui.WithSource(path)))
	observer := ui.NewObserver(renderer)

	a, err := openApp(ctx, cfg, root.logger, observer.Func())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := renderer.Start(ctx); err != nil {
		return err
	}
	start := time.Now()

	// Files rejected before chunking (too large, binary) never reach the
	// observer, so directory totals come from the walk result.
	var skipped, rejected int
	if info.IsDir() {
		res, err := a.coordinator.IngestDir(ctx, opts.owner, path)
		if err != nil {
			_ = renderer.Stop()
			return err
		}
		skipped = res.Skipped
		_, _, pipelineFailed := observer.Totals()
		rejected = len(res.Failed) - pipelineFailed
	} else {
		if !a.coordinator.Accepts(path) {
			_ = renderer.Stop()
			return fmt.Errorf("unsupported file type: %s (accepted: %v)", path, cfg.Ingest.Extensions)
		}
		if _, err := a.coordinator.IngestFile(ctx, opts.owner, opts.docID, path); err != nil {
			// The observer has already recorded a failed document; other
			// errors never reached the pipeline.
			if _, _, failed := observer.Totals(); failed == 0 {
				_ = renderer.Stop()
				return err
			}
		}
	}

	documents, chunks, failed := observer.Totals()
	failed += max(rejected, 0)
	renderer.Complete(ui.CompletionStats{
		Documents: documents,
		Chunks:    chunks,
		Duration:  time.Since(start),
		Errors:    failed,
		Skipped:   skipped,
		Embedder: ui.EmbedderInfo{
			Model:      a.embedder.ModelName(),
			Dimensions: a.embedder.Dimensions(),
		},
	})
	if err := renderer.Stop(); err != nil {
		return err
	}

	if failed > 0 && documents == 0 {
		return fmt.Errorf("ingest failed for %d document(s)", failed)
	}
	return nil
}
