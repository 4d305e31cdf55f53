// Package cmd provides the CLI commands for amanrag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// DefaultOwner is the owner scope used when --owner is not given.
const DefaultOwner = "default"

// annotationService marks long-running commands that log at the configured
// level instead of warn.
const annotationService = "service"

// rootOptions is the state shared by every subcommand.
type rootOptions struct {
	dir     string
	debug   bool
	noColor bool

	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// NewRootCmd creates the root command for the amanrag CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Hybrid document retrieval with citations",
		Long: `amanrag indexes documents per owner and answers queries with hybrid
search: BM25 keyword scoring and vector similarity fused with Reciprocal
Rank Fusion, optionally reranked, with citations back to the source text.

Serve it over HTTP or as an MCP server, or use the commands below directly.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "Project directory holding .amanrag.yaml and the data directory")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to <data_dir>/logs/")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.PersistentPreRunE = opts.setup
	cmd.PersistentPostRunE = opts.teardown

	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newCitationCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration and installs the default logger.
func (o *rootOptions) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.Load(o.dir)
	if err != nil {
		return amanerrors.ConfigError("failed to load configuration", err)
	}
	o.cfg = cfg

	logger, cleanup, err := logging.Setup(o.loggingConfig(cmd))
	if err != nil {
		return err
	}
	o.logger = logger
	o.cleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

// loggingConfig picks where logs go. The stdio transport owns stdout and
// stderr is often captured by the client, so it logs to file only.
func (o *rootOptions) loggingConfig(cmd *cobra.Command) logging.Config {
	level := "warn"
	if _, ok := cmd.Annotations[annotationService]; ok {
		level = o.cfg.Server.LogLevel
	}
	if o.debug {
		level = "debug"
	}

	if o.transport(cmd) == "stdio" {
		return logging.StdioConfig(o.cfg.DataDir, level)
	}
	if o.debug {
		return logging.DebugConfig(o.cfg.DataDir)
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	return cfg
}

// transport returns the serve transport, or "" for other commands.
func (o *rootOptions) transport(cmd *cobra.Command) string {
	if cmd.Name() != "serve" {
		return ""
	}
	if f := cmd.Flags().Lookup("transport"); f != nil && f.Changed {
		return strings.ToLower(f.Value.String())
	}
	return strings.ToLower(o.cfg.Server.Transport)
}

func (o *rootOptions) teardown(_ *cobra.Command, _ []string) error {
	if o.cleanup != nil {
		o.cleanup()
		o.cleanup = nil
	}
	return nil
}

// Execute runs the root command with a context canceled on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, amanerrors.FormatForCLI(err))
	}
	return err
}
