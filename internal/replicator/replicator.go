package replicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/record"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/transport"
)

// Source is the central master-data API. Implemented by transport.Client.
type Source interface {
	MasterDataVersion(ctx context.Context) (transport.MasterDataVersion, error)
	FetchMasterData(ctx context.Context, category string, includeInactive bool, limit, offset int) ([]map[string]any, error)
}

// Category maps a master-data listing onto a local entity type.
type Category struct {
	Name       string
	EntityType string
	// ProtectedFields are store-owned; central values for them are ignored.
	ProtectedFields []string
}

// DefaultCategories returns the standard reference-data categories.
func DefaultCategories() []Category {
	return []Category{
		{Name: "products", EntityType: record.TypeProduct, ProtectedFields: []string{"local_stock_adjustment", "local_notes"}},
		{Name: "customers", EntityType: record.TypeCustomer, ProtectedFields: []string{"loyalty_points_pending", "local_notes"}},
		{Name: "price_lists", EntityType: "price_list"},
		{Name: "stock_levels", EntityType: "stock_level", ProtectedFields: []string{"local_adjustment", "last_counted_at"}},
	}
}

const (
	// DefaultPageSize is the limit sent with each listing request.
	DefaultPageSize = 200

	// DefaultMaxPages caps the pages fetched per category per run.
	DefaultMaxPages = 1000

	// DefaultConcurrency is how many categories are fetched at once.
	DefaultConcurrency = 2
)

// ErrTruncated marks a category whose listing hit the page cap before it ended.
var ErrTruncated = errors.New("listing truncated at page cap")

// Replicator runs master-data replication for one store.
type Replicator struct {
	store   *store.Store
	source  Source
	storeID string

	clock  engine.Clock
	ids    engine.IDGenerator
	logger *slog.Logger

	categories      []Category
	pageSize        int
	maxPages        int
	includeInactive bool
	concurrency     int

	group singleflight.Group
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithClock sets the time source used for run timestamps and fallbacks.
func WithClock(c engine.Clock) Option {
	return func(r *Replicator) { r.clock = c }
}

// WithIDGenerator sets the generator for audit entry ids.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(r *Replicator) { r.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Replicator) { r.logger = l }
}

// WithCategories replaces the default categories.
func WithCategories(cats ...Category) Option {
	return func(r *Replicator) { r.categories = append([]Category(nil), cats...) }
}

// WithPageSize bounds each listing request.
func WithPageSize(n int) Option {
	return func(r *Replicator) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithMaxPages caps the pages fetched per category per run.
func WithMaxPages(n int) Option {
	return func(r *Replicator) {
		if n > 0 {
			r.maxPages = n
		}
	}
}

// WithIncludeInactive also imports items the central authority marks inactive.
func WithIncludeInactive(include bool) Option {
	return func(r *Replicator) { r.includeInactive = include }
}

// WithConcurrency bounds how many categories are fetched at once.
func WithConcurrency(n int) Option {
	return func(r *Replicator) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a Replicator for storeID.
func New(s *store.Store, src Source, storeID string, opts ...Option) *Replicator {
	r := &Replicator{
		store:       s,
		source:      src,
		storeID:     storeID,
		clock:       engine.SystemClock{},
		ids:         engine.UUIDv7Generator{},
		logger:      slog.Default(),
		categories:  DefaultCategories(),
		pageSize:    DefaultPageSize,
		maxPages:    DefaultMaxPages,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result summarizes one replication run.
type Result struct {
	Version    string
	StartedAt  time.Time
	FinishedAt time.Time
	// UpToDate is set when the central version matched the last complete
	// run and nothing was fetched.
	UpToDate   bool
	Forced     bool
	Categories map[string]CategoryResult
}

// Changed returns the number of records inserted or updated.
func (r Result) Changed() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Inserted + c.Updated
	}
	return n
}

// CategoryResult summarizes one category.
type CategoryResult struct {
	Fetched   int
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
	// Truncated is set when the page cap stopped the listing early.
	Truncated bool
	Err       error
}

// PartialFailureError reports categories that failed or were truncated while
// others succeeded. Truncated categories map to ErrTruncated.
type PartialFailureError struct {
	Failed map[string]error
}

func (e *PartialFailureError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %v", name, e.Failed[name])
	}
	return fmt.Sprintf("partial replication failure (%d categories): %s", len(names), strings.Join(parts, "; "))
}

// IsPartialFailure reports whether err is a PartialFailureError.
func IsPartialFailure(err error) bool {
	var pe *PartialFailureError
	return errors.As(err, &pe)
}

// Replicate runs a replication pass unless the central version is unchanged
// since the last complete run. Safe to call repeatedly.
func (r *Replicator) Replicate(ctx context.Context) (Result, error) {
	return r.coalesced(ctx, false)
}

// ForceReplication runs a full pass regardless of the version marker.
func (r *Replicator) ForceReplication(ctx context.Context) (Result, error) {
	return r.coalesced(ctx, true)
}

// coalesced joins an in-flight run if there is one; callers share its result.
func (r *Replicator) coalesced(ctx context.Context, force bool) (Result, error) {
	v, err, shared := r.group.Do("replicate", func() (any, error) {
		return r.run(ctx, force)
	})
	if shared {
		r.logger.Debug("replication call coalesced", "store_id", r.storeID)
	}
	res, _ := v.(Result)
	return res, err
}

// Run replicates immediately and then on every interval until ctx is done.
func (r *Replicator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Replicate(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("replication failed", "store_id", r.storeID, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Replicator) run(ctx context.Context, force bool) (Result, error) {
	result := Result{
		StartedAt:  r.clock.Now(),
		Forced:     force,
		Categories: make(map[string]CategoryResult, len(r.categories)),
	}

	version, err := r.source.MasterDataVersion(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch master data version: %w", err)
	}
	result.Version = version.Version

	marker, found, err := r.store.VersionMarker(ctx, r.storeID)
	if err != nil {
		return result, err
	}
	if !force && found && !marker.Partial && version.Version != "" && marker.Version == version.Version {
		result.UpToDate = true
		result.FinishedAt = r.clock.Now()
		r.logger.Debug("master data up to date", "store_id", r.storeID, "version", version.Version)
		return result, nil
	}

	stamp := version.LastUpdated
	if stamp.IsZero() {
		stamp = result.StartedAt
	}

	perCategory := make([]CategoryResult, len(r.categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, cat := range r.categories {
		g.Go(func() error {
			// Failures stay per category; returning nil keeps siblings running.
			perCategory[i] = r.replicateCategory(gctx, cat, stamp)
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[string]error)
	incomplete := make(map[string]error)
	counts := make(map[string]int, len(r.categories))
	for i, cat := range r.categories {
		cr := perCategory[i]
		result.Categories[cat.Name] = cr
		if cr.Err != nil {
			failed[cat.Name] = cr.Err
			incomplete[cat.Name] = cr.Err
			continue
		}
		if cr.Truncated {
			incomplete[cat.Name] = ErrTruncated
		}
		counts[cat.Name] = cr.Fetched
	}
	result.FinishedAt = r.clock.Now()

	if len(failed) < len(r.categories) {
		err := r.store.PutVersionMarker(context.WithoutCancel(ctx), record.VersionMarker{
			StoreID:     r.storeID,
			Version:     version.Version,
			LastUpdated: stamp,
			Categories:  counts,
			Partial:     len(incomplete) > 0,
		})
		if err != nil {
			return result, fmt.Errorf("write version marker: %w", err)
		}
	}

	r.audit(ctx, result, incomplete)
	r.logger.Info("replication finished",
		"store_id", r.storeID,
		"version", version.Version,
		"forced", force,
		"changed", result.Changed(),
		"failed_categories", len(failed),
		"incomplete_categories", len(incomplete),
	)

	if len(incomplete) > 0 {
		return result, &PartialFailureError{Failed: incomplete}
	}
	return result, nil
}

// replicateCategory pages through one category and applies every item.
// Paging ends on a short page, or on a page that brings no new ids: a
// server that ignores the offset keeps answering with the first page.
func (r *Replicator) replicateCategory(ctx context.Context, cat Category, stamp time.Time) CategoryResult {
	var res CategoryResult
	seen := make(map[string]bool)
	for page := 0; ; page++ {
		if page >= r.maxPages {
			res.Truncated = true
			r.logger.Warn("master data listing truncated", "category", cat.Name, "pages", page)
			return res
		}

		docs, err := r.source.FetchMasterData(ctx, cat.Name, r.includeInactive, r.pageSize, page*r.pageSize)
		if err != nil {
			res.Err = err
			r.logger.Warn("master data category failed", "category", cat.Name, "page", page, "error", err)
			return res
		}

		fresh := 0
		for _, doc := range docs {
			rec, err := record.FromWire(cat.EntityType, doc, record.SourceMasterData)
			if err != nil {
				res.Fetched++
				res.Skipped++
				r.logger.Warn("skipping malformed master data item", "category", cat.Name, "error", err)
				continue
			}
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			fresh++
			res.Fetched++

			if err := r.applyItem(ctx, cat, rec, stamp, &res); err != nil {
				res.Err = err
				return res
			}
		}
		if len(docs) < r.pageSize {
			return res
		}
		if fresh == 0 {
			r.logger.Debug("master data listing repeated itself", "category", cat.Name, "page", page)
			return res
		}
	}
}

// applyItem upserts one master-data item, keeping protected local fields.
func (r *Replicator) applyItem(ctx context.Context, cat Category, rec record.Record, stamp time.Time, res *CategoryResult) error {
	existing, found, err := r.store.Get(ctx, rec.Type, rec.ID)
	if err != nil {
		return err
	}

	for _, field := range cat.ProtectedFields {
		delete(rec.Fields, field)
		if found {
			if v, ok := existing.Fields[field]; ok {
				rec.Fields[field] = v
			}
		}
	}

	if rec.LastModified.IsZero() {
		rec.LastModified = stamp
		if found && existing.Source == record.SourceMasterData {
			rec.LastModified = existing.LastModified
		}
	}

	if found && existing.Source == rec.Source &&
		existing.LastModified.Equal(rec.LastModified) &&
		record.SameContent(existing.Fields, rec.Fields) {
		res.Unchanged++
		return nil
	}

	if err := r.store.Upsert(ctx, rec); err != nil {
		return err
	}
	if found {
		res.Updated++
	} else {
		res.Inserted++
	}
	return nil
}

func (r *Replicator) audit(ctx context.Context, result Result, failed map[string]error) {
	detail := map[string]any{
		"version": result.Version,
		"forced":  result.Forced,
		"changed": result.Changed(),
	}
	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		detail["failed"] = names
	}

	err := r.store.AppendAudit(context.WithoutCancel(ctx), record.AuditEntry{
		ID:      r.ids.Generate(),
		At:      result.FinishedAt,
		Kind:    record.AuditReplication,
		Message: "master data replicated",
		Detail:  detail,
	})
	if err != nil {
		r.logger.Warn("audit append failed", "error", err)
	}
}
