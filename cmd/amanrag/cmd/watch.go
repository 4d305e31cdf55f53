package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/watcher"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		owner   string
		polling bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Keep a directory's documents indexed as files change",
		Long: `Reconcile the index with a directory, then watch it and re-ingest or
delete documents as files are created, modified or removed.

Events are debounced by ingest.watch_debounce. Falls back to polling when
native file notifications are unavailable.

Examples:
  amanrag watch ./docs --owner acme`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{annotationService: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, root, args[0], owner, polling)
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", DefaultOwner, "Owner scope the documents belong to")
	cmd.Flags().BoolVar(&polling, "poll", false, "Poll for changes instead of using file notifications")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, root *rootOptions, dir, owner string, polling bool) error {
	a, err := openApp(ctx, root.cfg, root.logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	syncer, err := watcher.NewSyncer(a.coordinator, owner, dir, root.logger)
	if err != nil {
		return err
	}

	res, err := syncer.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %s: %d ingested, %d deleted, %d failed\n",
		dir, res.Ingested, res.Deleted, res.Failed)

	opts := watcher.DefaultOptions()
	if d := root.cfg.Ingest.WatchDebounceDuration(); d > 0 {
		opts.DebounceWindow = d
	}
	opts.ForcePolling = polling

	w, err := watcher.New(opts)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startErr := make(chan error, 1)
	go func() {
		startErr <- w.Start(ctx, dir)
	}()

	root.logger.Info("watch_started",
		slog.String("dir", dir),
		slog.String("owner", owner),
		slog.String("mode", w.Mode()))
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (%s), press Ctrl+C to stop\n", dir, w.Mode())

	errs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-startErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			res := syncer.Apply(ctx, batch)
			if res.Ingested+res.Deleted+res.Failed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Updated: %d ingested, %d deleted, %d failed\n",
					res.Ingested, res.Deleted, res.Failed)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			root.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}
