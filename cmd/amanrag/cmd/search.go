package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	owner   string
	topK    int
	alpha   float64
	rerank  bool
	mode    string
	docs    []string
	jsonOut bool
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an owner's documents",
		Long: `Search an owner's documents using hybrid search.

Combines BM25 (keyword) and vector (semantic) retrieval with Reciprocal
Rank Fusion. --alpha weights the vector side: 0 is keyword only, 1 is
vector only.

Examples:
  amanrag search "refund policy" --owner acme
  amanrag search "termination clause" --docs contract-2024 --top-k 5
  amanrag search "error budget" --mode lexical_only --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, root, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.owner, "owner", "o", DefaultOwner, "Owner scope to search")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", 0, "Vector weight in [0,1] (default from config)")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", true, "Rerank the fused candidates")
	cmd.Flags().StringVar(&opts.mode, "mode", "hybrid", "Retrieval mode: hybrid, vector_only, lexical_only")
	cmd.Flags().StringSliceVar(&opts.docs, "docs", nil, "Restrict to these document ids (repeatable)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output the response as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts searchOptions) error {
	mode, err := search.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	req := search.Request{
		Query:       query,
		OwnerID:     opts.owner,
		DocumentIDs: opts.docs,
		TopK:        opts.topK,
		Rerank:      opts.rerank,
		Mode:        mode,
	}
	if cmd.Flags().Changed("alpha") {
		req.Alpha = search.Float(opts.alpha)
	}

	a, err := openApp(ctx, root.cfg, root.logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	root.logger.Debug("search_started", slog.String("query", query), slog.String("owner", opts.owner))
	resp, err := a.engine.Search(ctx, req)
	if err != nil {
		return err
	}

	out := ui.NewResultRenderer(cmd.OutOrStdout(), root.noColor)
	if opts.jsonOut {
		return out.RenderJSON(resp)
	}
	out.RenderSearch(resp)
	return nil
}
