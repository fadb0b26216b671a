package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/storesync/internal/archive"
	"github.com/roach88/storesync/internal/config"
	"github.com/roach88/storesync/internal/consolidation"
	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/fieldcrypt"
	"github.com/roach88/storesync/internal/replicator"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/transport"
)

// node is one fully wired store node built from configuration.
type node struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	client     *transport.Client
	engine     *engine.Engine
	replicator *replicator.Replicator
	aggregator *consolidation.Aggregator
}

// openNode loads configuration and builds every component. The caller must
// Close the node.
func openNode(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*node, error) {
	cfg, err := config.LoadWithEnvFile(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := opts.logger(cmd.ErrOrStderr()).With("store_id", cfg.StoreID)

	policy, err := cfg.Policy()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid conflict policy", err)
	}
	threshold, err := cfg.LowStockThreshold()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid low stock threshold", err)
	}

	var storeOpts []store.Option
	if len(cfg.Sealing.Fields) > 0 {
		sealer, err := fieldcrypt.New(cfg.Sealing.Passphrase, cfg.StoreID)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to set up field sealing", err)
		}
		storeOpts = append(storeOpts, store.WithFieldSealer(sealer, cfg.Sealing.Fields))
	}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, storeOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	client, err := transport.New(cfg.Central.URL,
		transport.WithToken(cfg.Central.Token),
		transport.WithTimeout(cfg.Central.Timeout),
		transport.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "invalid central url", err)
	}

	aggOpts := []consolidation.Option{
		consolidation.WithLogger(logger),
		consolidation.WithConcurrency(cfg.Consolidation.Concurrency),
		consolidation.WithLowStockThreshold(threshold),
	}
	if cfg.Archive.Bucket != "" {
		ar, err := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			Prefix:          cfg.Archive.Prefix,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			UsePathStyle:    cfg.Archive.UsePathStyle,
		})
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to set up snapshot archive", err)
		}
		aggOpts = append(aggOpts, consolidation.WithArchiver(ar))
	}

	n := &node{
		cfg:    cfg,
		logger: logger,
		store:  st,
		client: client,
		engine: engine.New(st, client,
			engine.WithLogger(logger),
			engine.WithPolicy(policy),
			engine.WithWatchedTypes(cfg.Sync.WatchedTypes...),
			engine.WithPriorities(cfg.Sync.Priorities),
			engine.WithMaxRetries(cfg.Sync.MaxRetries),
			engine.WithDownloadLimit(cfg.Sync.DownloadLimit),
			engine.WithInterval(cfg.Sync.Interval),
			engine.WithProbe(client, cfg.Sync.ProbeInterval),
		),
		replicator: replicator.New(st, client, cfg.StoreID,
			replicator.WithLogger(logger),
			replicator.WithCategories(cfg.ReplicatorCategories()...),
			replicator.WithPageSize(cfg.Replication.PageSize),
			replicator.WithMaxPages(cfg.Replication.MaxPages),
			replicator.WithIncludeInactive(cfg.Replication.IncludeInactive),
			replicator.WithConcurrency(cfg.Replication.Concurrency),
		),
		aggregator: consolidation.New(st, client, aggOpts...),
	}
	return n, nil
}

func (n *node) Close() {
	if err := n.store.Close(); err != nil {
		n.logger.Error("error closing database", "error", err)
	}
}

// probe refreshes the engine's connectivity state with one health check.
func (n *node) probe(ctx context.Context) bool {
	online := n.client.Ping(ctx) == nil
	n.engine.SetConnectivity(ctx, online)
	return online
}

func storeError(message string, err error) error {
	return WrapExitError(ExitCommandError, message, fmt.Errorf("store: %w", err))
}
