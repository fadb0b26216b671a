package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/storesync/internal/record"
	"github.com/roach88/storesync/internal/store"
)

// Remote is the central authority as seen by the engine.
// Implemented by transport.Client.
type Remote interface {
	Create(ctx context.Context, entityType string, payload map[string]any) error
	Update(ctx context.Context, entityType, id string, payload map[string]any) error
	Delete(ctx context.Context, entityType, id string) error
	FetchModifiedSince(ctx context.Context, entityType string, since time.Time, limit int) ([]map[string]any, error)
}

// Probe reports whether the central authority is reachable.
type Probe interface {
	Ping(ctx context.Context) error
}

const (
	// DefaultMaxRetries is the upload attempt ceiling before an item parks as failed.
	DefaultMaxRetries = 3

	// DefaultPriority is used for entity types without a configured priority.
	DefaultPriority = 10

	// DefaultDownloadLimit bounds each delta download request.
	DefaultDownloadLimit = 500

	// DefaultInterval is the periodic sync interval used by Run.
	DefaultInterval = 30 * time.Second

	// DefaultProbeInterval is how often Run checks connectivity.
	DefaultProbeInterval = 10 * time.Second
)

// DefaultPriorities drains sales first, then stock, then reference data.
func DefaultPriorities() map[string]int {
	return map[string]int{
		record.TypeTransaction: 100,
		record.TypeInventory:   90,
		record.TypeCustomer:    50,
		record.TypeProduct:     30,
	}
}

// DefaultWatchedTypes are downloaded on every pass.
func DefaultWatchedTypes() []string {
	return []string{
		record.TypeProduct,
		record.TypeCustomer,
		record.TypeTransaction,
		record.TypeInventory,
	}
}

// Engine is the synchronization engine of one store node.
//
// Thread-safety model:
//   - Tick, ForceSync, SetConnectivity, GetSyncStatus: safe from any goroutine
//   - RecordChange, Enqueue, RetryFailed: safe from any goroutine
//   - Run: call from exactly one goroutine
type Engine struct {
	store  *store.Store
	remote Remote
	probe  Probe
	clock  Clock
	ids    IDGenerator
	logger *slog.Logger

	policy        Policy
	watched       []string
	priorities    map[string]int
	maxRetries    int
	downloadLimit int
	interval      time.Duration
	probeInterval time.Duration

	mu    sync.Mutex
	state State
	// running is owned by the pass in flight and outlives a connectivity
	// flap, so a reconnect cannot start a second pass beside it.
	running    bool
	cancelPass context.CancelFunc
	lastSyncAt time.Time
	lastPass   *PassResult

	wg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the generator for queue and audit ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithPolicy sets the conflict policy. Default: merge.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithWatchedTypes sets the entity types downloaded on every pass.
func WithWatchedTypes(types ...string) Option {
	return func(e *Engine) {
		e.watched = append([]string(nil), types...)
	}
}

// WithPriorities overrides the upload priority of entity types.
// Types not listed keep their default.
func WithPriorities(p map[string]int) Option {
	return func(e *Engine) {
		for k, v := range p {
			e.priorities[k] = v
		}
	}
}

// WithMaxRetries sets the retry ceiling stamped on newly enqueued items.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithDownloadLimit bounds each delta download request.
func WithDownloadLimit(n int) Option {
	return func(e *Engine) {
		e.downloadLimit = n
	}
}

// WithInterval sets the periodic sync interval used by Run.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithProbe sets the connectivity probe. By default the Remote is used when
// it implements Probe.
func WithProbe(p Probe, interval time.Duration) Option {
	return func(e *Engine) {
		e.probe = p
		if interval > 0 {
			e.probeInterval = interval
		}
	}
}

// New creates an Engine in the OFFLINE state.
func New(s *store.Store, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		store:         s,
		remote:        remote,
		clock:         SystemClock{},
		ids:           UUIDv7Generator{},
		logger:        slog.Default(),
		policy:        DefaultPolicy,
		watched:       DefaultWatchedTypes(),
		priorities:    DefaultPriorities(),
		maxRetries:    DefaultMaxRetries,
		downloadLimit: DefaultDownloadLimit,
		interval:      DefaultInterval,
		probeInterval: DefaultProbeInterval,
		state:         StateOffline,
	}
	if p, ok := remote.(Probe); ok {
		e.probe = p
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Policy returns the configured conflict policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// PriorityFor returns the upload priority of an entity type.
func (e *Engine) PriorityFor(entityType string) int {
	if p, ok := e.priorities[entityType]; ok {
		return p
	}
	return DefaultPriority
}

// GetSyncStatus returns the engine state plus queue counts.
func (e *Engine) GetSyncStatus(ctx context.Context) (Status, error) {
	counts, err := e.store.CountQueue(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("sync status: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:      e.state,
		Online:     e.state != StateOffline,
		Policy:     e.policy,
		LastSyncAt: e.lastSyncAt,
		Pending:    counts.Pending,
		Synced:     counts.Synced,
		Failed:     counts.Failed,
	}
	if e.lastPass != nil {
		last := *e.lastPass
		st.LastPass = &last
	}
	return st, nil
}

// RecordChange applies a local mutation to the store and then enqueues its
// sync item. The record is stamped with the current time when its
// LastModified is zero.
//
// The two writes are not atomic: a crash between them leaves the record
// changed locally but unsent until it is modified again.
func (e *Engine) RecordChange(ctx context.Context, rec record.Record, op record.Operation) (record.QueueItem, error) {
	if !op.Valid() {
		return record.QueueItem{}, &SyncError{
			Code:       ErrCodeInvalidOperation,
			Message:    fmt.Sprintf("unsupported operation %q", op),
			EntityType: rec.Type,
			RecordID:   rec.ID,
		}
	}
	if rec.LastModified.IsZero() {
		rec.LastModified = e.clock.Now()
	}
	rec.Source = record.SourceLocal

	var (
		payload map[string]any
		err     error
	)
	switch op {
	case record.OpCreate:
		err = e.store.Add(ctx, rec)
		payload = rec.Wire()
	case record.OpUpdate:
		err = e.store.Update(ctx, rec)
		payload = rec.Wire()
	case record.OpDelete:
		err = e.store.Delete(ctx, rec.Type, rec.ID)
		payload = map[string]any{record.FieldID: rec.ID}
	}
	if err != nil {
		return record.QueueItem{}, fmt.Errorf("record change: %w", err)
	}

	return e.Enqueue(ctx, rec.Type, rec.ID, op, payload)
}

// Enqueue appends a pending item using the entity type's configured priority.
func (e *Engine) Enqueue(ctx context.Context, entityType, recordID string, op record.Operation, payload map[string]any) (record.QueueItem, error) {
	return e.EnqueuePriority(ctx, entityType, recordID, op, payload, e.PriorityFor(entityType))
}

// EnqueuePriority appends a pending item with an explicit priority.
func (e *Engine) EnqueuePriority(ctx context.Context, entityType, recordID string, op record.Operation, payload map[string]any, priority int) (record.QueueItem, error) {
	if !op.Valid() {
		return record.QueueItem{}, &SyncError{
			Code:       ErrCodeInvalidOperation,
			Message:    fmt.Sprintf("unsupported operation %q", op),
			EntityType: entityType,
			RecordID:   recordID,
		}
	}

	item, err := e.store.Enqueue(ctx, record.QueueItem{
		ID:         e.ids.Generate(),
		EntityType: entityType,
		RecordID:   recordID,
		Operation:  op,
		Payload:    record.CloneFields(payload),
		Priority:   priority,
		MaxRetries: e.maxRetries,
		EnqueuedAt: e.clock.Now(),
	})
	if err != nil {
		return record.QueueItem{}, err
	}

	e.logger.Debug("sync item enqueued",
		"id", item.ID,
		"entity_type", item.EntityType,
		"record_id", item.RecordID,
		"operation", item.Operation,
		"priority", item.Priority,
	)
	return item, nil
}

// RetryFailed resets a failed item to pending with a fresh retry budget.
func (e *Engine) RetryFailed(ctx context.Context, id string) error {
	item, found, err := e.store.QueueItem(ctx, id)
	if err != nil {
		return err
	}
	if !found || item.Status != record.StatusFailed {
		return &SyncError{
			Code:    ErrCodeNotRetryable,
			Message: fmt.Sprintf("queue item %q is not in the failed state", id),
		}
	}
	if err := e.store.RetryFailed(ctx, id); err != nil {
		return err
	}

	e.audit(ctx, record.AuditEntry{
		Kind:       record.AuditQueue,
		EntityType: item.EntityType,
		RecordID:   item.RecordID,
		Message:    "failed item reset to pending",
		Detail:     map[string]any{"item_id": id, "last_error": item.LastError},
	})
	e.logger.Info("failed sync item reset", "id", id, "entity_type", item.EntityType, "record_id", item.RecordID)
	return nil
}

// AuditTrail returns up to limit audit entries, most recent first.
func (e *Engine) AuditTrail(ctx context.Context, limit int) ([]record.AuditEntry, error) {
	return e.store.ReadAudit(ctx, limit)
}

// audit appends an audit entry. Failures are logged, never returned.
func (e *Engine) audit(ctx context.Context, entry record.AuditEntry) {
	entry.ID = e.ids.Generate()
	if entry.At.IsZero() {
		entry.At = e.clock.Now()
	}
	if err := e.store.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Warn("audit append failed", "kind", entry.Kind, "message", entry.Message, "error", err)
	}
}
