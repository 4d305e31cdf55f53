package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove documents from every index",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "document <id>",
		Short: "Remove one document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root.cfg, root.logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.coordinator.DeleteDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %s (%d chunks)\n", args[0], n)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "owner <owner-id>",
		Short: "Remove every document of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root.cfg, root.logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.coordinator.DeleteOwner(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted owner %s (%d chunks)\n", args[0], n)
			return err
		},
	})

	return cmd
}
