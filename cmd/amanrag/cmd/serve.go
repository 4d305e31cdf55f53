package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/api"
	"github.com/Aman-CERP/amanrag/internal/mcp"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		transport string
		addr      string
		owner     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search over HTTP or as an MCP server",
		Long: `Start a long-running server.

  http   REST API under /api/v1 (search, citations, documents, stats)
  stdio  Model Context Protocol over stdin/stdout for AI assistants

Transport and address default to server.transport and server.addr in the
configuration.

Examples:
  amanrag serve --addr :9090
  amanrag serve --transport stdio --owner acme`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationService: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("transport") {
				transport = root.cfg.Server.Transport
			}
			if !cmd.Flags().Changed("addr") {
				addr = root.cfg.Server.Addr
			}
			return runServe(cmd.Context(), root, strings.ToLower(transport), addr, owner)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", "http", "Transport: http or stdio")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVarP(&owner, "owner", "o", DefaultOwner, "Default owner for MCP tool calls that do not name one")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions, transport, addr, owner string) error {
	a, err := openApp(ctx, root.cfg, root.logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	switch transport {
	case "http":
		return api.NewServer(addr, a.engine, a.coordinator, root.logger).Run(ctx)

	case "stdio":
		srv, err := mcp.NewServer(a.engine, a.embedder,
			mcp.WithDefaultOwner(owner),
			mcp.WithLogger(root.logger))
		if err != nil {
			return err
		}
		root.logger.Info("serving_mcp", slog.String("owner", owner), slog.String("data_dir", root.cfg.DataDir))
		return srv.Serve(ctx, transport)

	default:
		return fmt.Errorf("unknown transport: %s (valid options: http, stdio)", transport)
	}
}
