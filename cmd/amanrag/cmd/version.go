package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, git commit, build date and Go toolchain.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case "short":
				_, err := fmt.Fprintln(out, version.Short())
				return err
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(version.GetInfo())
			case "text", "":
				_, err := fmt.Fprintln(out, version.String())
				return err
			default:
				return fmt.Errorf("unknown format %q (valid options: text, short, json)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "O", "text", "Output format: text, short, json")

	return cmd
}
