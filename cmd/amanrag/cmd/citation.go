package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

func newCitationCmd(root *rootOptions) *cobra.Command {
	var (
		owner       string
		contextSize int
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "citation <chunk-id>",
		Short: "Show a chunk with its neighboring chunks",
		Long: `Resolve a chunk id from a search result to its full text, position in
the document and up to three neighboring chunks on each side.

Examples:
  amanrag citation 6f1c2d3e-8a9b-5c4d-9e0f-1a2b3c4d5e6f --owner acme
  amanrag citation 6f1c2d3e-8a9b-5c4d-9e0f-1a2b3c4d5e6f --context 0 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if contextSize < 0 || contextSize > search.MaxContextSize {
				return fmt.Errorf("--context must be between 0 and %d", search.MaxContextSize)
			}

			a, err := openApp(cmd.Context(), root.cfg, root.logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			detail, err := a.engine.Citation(cmd.Context(), args[0], owner, contextSize > 0, contextSize)
			if err != nil {
				return err
			}

			out := ui.NewResultRenderer(cmd.OutOrStdout(), root.noColor)
			if jsonOut {
				return out.RenderJSON(detail)
			}
			out.RenderCitation(detail)
			return nil
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Reject the chunk unless it belongs to this owner")
	cmd.Flags().IntVar(&contextSize, "context", 1, "Neighboring chunks to include on each side (0-3)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the citation as JSON")

	return cmd
}
