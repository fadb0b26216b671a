package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine, replication and consolidation loops",
		Long: `Start the store node and keep it running until interrupted.

The sync engine probes connectivity and runs a pass on every sync interval,
master data is replicated on the replication interval, and when
consolidation.store_ids is configured a consolidated snapshot is refreshed
on the consolidation interval.

Example:
  storesync run --config storesync.yaml
  storesync run --config storesync.yaml --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, rootOpts)
		},
	}
}

func runNode(cmd *cobra.Command, opts *RootOptions) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := openNode(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer n.Close()

	n.logger.Info("store node starting",
		"database", n.cfg.Database,
		"central", n.cfg.Central.URL,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Store node started. Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.engine.Run(gctx)
	})
	g.Go(func() error {
		return n.replicator.Run(gctx, n.cfg.Replication.Interval)
	})
	if ids := n.cfg.Consolidation.StoreIDs; len(ids) > 0 {
		g.Go(func() error {
			return n.aggregator.Run(gctx, ids, n.cfg.Consolidation.Interval)
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "store node error", err)
	}
	n.logger.Info("store node stopped gracefully")
	return nil
}
