package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/ui"
)

func newStatsCmd(root *rootOptions) *cobra.Command {
	var (
		owner   string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Show vector store and reranker statistics. With --owner, also show the
owner's document counts and keyword index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), root.cfg, root.logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.engine.Stats(cmd.Context(), owner)
			if err != nil {
				return err
			}

			out := ui.NewResultRenderer(cmd.OutOrStdout(), root.noColor)
			if jsonOut {
				return out.RenderJSON(stats)
			}
			out.RenderStats(owner, stats, ui.EmbedderInfo{
				Model:      a.embedder.ModelName(),
				Dimensions: a.embedder.Dimensions(),
			})
			return nil
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner scope to report on")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output statistics as JSON")

	return cmd
}
