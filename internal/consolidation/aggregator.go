package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/record"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/transport"
)

// SnapshotKey is the store key the consolidated snapshot is persisted under.
const SnapshotKey = "consolidated"

const (
	// DefaultConcurrency bounds simultaneous store fetches.
	DefaultConcurrency = 4

	// DefaultLowStockThreshold applies to lines without a positive reorder level.
	DefaultLowStockThreshold = 5

	// DefaultInterval is the refresh period used by Run.
	DefaultInterval = 15 * time.Minute
)

// Fetcher reads one store's dataset from the central authority.
// Implemented by transport.Client.
type Fetcher interface {
	FetchStoreData(ctx context.Context, storeID string) (transport.StoreDataset, error)
}

// Archiver keeps a copy of every snapshot outside the local store.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// Aggregator computes and persists consolidated snapshots.
type Aggregator struct {
	store   *store.Store
	fetcher Fetcher

	clock    engine.Clock
	ids      engine.IDGenerator
	logger   *slog.Logger
	archiver Archiver

	concurrency       int
	lowStockThreshold decimal.Decimal
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the time source that stamps snapshots.
func WithClock(c engine.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// WithIDGenerator sets the generator for audit entry ids.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(a *Aggregator) { a.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithArchiver copies each persisted snapshot to an archive.
// Archive failures are logged and do not fail the run.
func WithArchiver(ar Archiver) Option {
	return func(a *Aggregator) { a.archiver = ar }
}

// WithConcurrency bounds simultaneous store fetches.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithLowStockThreshold sets the quantity at or below which an item without
// its own reorder level counts as low stock.
func WithLowStockThreshold(q decimal.Decimal) Option {
	return func(a *Aggregator) { a.lowStockThreshold = q }
}

// New creates an Aggregator.
func New(s *store.Store, f Fetcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:             s,
		fetcher:           f,
		clock:             engine.SystemClock{},
		ids:               engine.UUIDv7Generator{},
		logger:            slog.Default(),
		concurrency:       DefaultConcurrency,
		lowStockThreshold: decimal.NewFromInt(DefaultLowStockThreshold),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Consolidate fetches the given stores, computes the snapshot and persists
// it, replacing the previous one. Store fetch failures only exclude that
// store; the returned error is reserved for persistence failures.
func (a *Aggregator) Consolidate(ctx context.Context, storeIDs []string) (Snapshot, error) {
	ids := uniqueSorted(storeIDs)

	datasets := make([]*transport.StoreDataset, len(ids))
	failures := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			ds, err := a.fetcher.FetchStoreData(gctx, id)
			if err != nil {
				failures[i] = err
				a.logger.Warn("store excluded from consolidation", "store_id", id, "error", err)
				return nil
			}
			ds.StoreID = id
			datasets[i] = &ds
			return nil
		})
	}
	_ = g.Wait()

	snap := Snapshot{
		GeneratedAt: a.clock.Now(),
		StoreIDs:    ids,
		Included:    []string{},
		Excluded:    map[string]string{},
		Stores:      []StoreMetrics{},
	}
	for i, id := range ids {
		if failures[i] != nil {
			snap.Excluded[id] = failures[i].Error()
			continue
		}
		snap.Included = append(snap.Included, id)
		snap.Stores = append(snap.Stores, computeStore(*datasets[i], a.lowStockThreshold))
	}

	scoreStores(snap.Stores)
	snap.Comparisons = compareAll(snap.Stores)
	snap.Insights = deriveInsights(snap.Stores)
	snap.Totals = totalsOf(snap.Stores)

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return snap, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := a.store.PutSnapshot(ctx, SnapshotKey, snap.GeneratedAt, body); err != nil {
		return snap, fmt.Errorf("persist snapshot: %w", err)
	}

	a.archive(ctx, snap, body)
	a.audit(ctx, snap)
	a.logger.Info("consolidation finished",
		"requested", len(ids),
		"included", len(snap.Included),
		"excluded", len(snap.Excluded),
	)
	return snap, nil
}

// GetConsolidatedData returns the last persisted snapshot.
func (a *Aggregator) GetConsolidatedData(ctx context.Context) (Snapshot, bool, error) {
	body, _, found, err := a.store.Snapshot(ctx, SnapshotKey)
	if err != nil || !found {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Run consolidates immediately and then on every interval until ctx is done.
// A non-positive interval uses DefaultInterval.
func (a *Aggregator) Run(ctx context.Context, storeIDs []string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.Consolidate(ctx, storeIDs); err != nil && ctx.Err() == nil {
			a.logger.Warn("consolidation failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Aggregator) archive(ctx context.Context, snap Snapshot, body []byte) {
	if a.archiver == nil {
		return
	}
	key := fmt.Sprintf("%s/%s.json", SnapshotKey, snap.GeneratedAt.UTC().Format("20060102T150405Z"))
	if err := a.archiver.Archive(ctx, key, body); err != nil {
		a.logger.Warn("snapshot archive failed", "key", key, "error", err)
	}
}

func (a *Aggregator) audit(ctx context.Context, snap Snapshot) {
	excluded := make([]string, 0, len(snap.Excluded))
	for id := range snap.Excluded {
		excluded = append(excluded, id)
	}
	sort.Strings(excluded)

	err := a.store.AppendAudit(context.WithoutCancel(ctx), record.AuditEntry{
		ID:      a.ids.Generate(),
		At:      snap.GeneratedAt,
		Kind:    record.AuditConsolidation,
		Message: "consolidated snapshot generated",
		Detail: map[string]any{
			"included": snap.Included,
			"excluded": excluded,
		},
	})
	if err != nil {
		a.logger.Warn("audit append failed", "error", err)
	}
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = record.NormalizeKey(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
