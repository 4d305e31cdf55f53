package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage amanrag configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/amanrag/config.yaml)
  3. Project config (.amanrag.yaml, .amanrag.yml or .amanrag.toml)
  4. .env in the project directory
  5. Environment variables (AMANRAG_*)`,
		Example: `  # Write a project config with every default spelled out
  amanrag config init

  # Show effective configuration (merged from all sources)
  amanrag config show

  # Print config file locations
  amanrag config path`,
	}

	cmd.AddCommand(newConfigInitCmd(root))
	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigPathCmd(root))

	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(root.dir, ".amanrag.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.NewConfig().WriteYAML(path); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")

	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as JSON",
		Long:  `Show the merged configuration. Secrets (API keys, database DSNs) are omitted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(root.cfg)
		},
	}
}

func newConfigPathCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print configuration file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project := config.ProjectConfigPath(root.dir)
			if project == "" {
				project = "(none)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:     %s\n", config.UserConfigPath())
			fmt.Fprintf(out, "project:  %s\n", project)
			_, err := fmt.Fprintf(out, "data dir: %s\n", root.cfg.DataDir)
			return err
		},
	}
}
