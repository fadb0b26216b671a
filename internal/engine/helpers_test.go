package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/record"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/testutil"
	"github.com/roach88/storesync/internal/transport"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store   *store.Store
	central *testutil.FakeCentral
	clock   *testutil.ManualClock
	engine  *Engine
}

// newFixture wires an engine to a fake central authority, already online.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	s := setupTestStore(t)
	central := testutil.NewFakeCentral(t)
	client, err := transport.New(central.URL(), transport.WithTimeout(2*time.Second), transport.WithLogger(quietLogger()))
	require.NoError(t, err)

	clock := testutil.NewManualClock(time.Time{})
	base := []Option{
		WithClock(clock),
		WithIDGenerator(testutil.NewSequenceIDs("id")),
		WithLogger(quietLogger()),
	}
	e := New(s, client, append(base, opts...)...)
	e.SetConnectivity(context.Background(), true)

	return &fixture{store: s, central: central, clock: clock, engine: e}
}

func at(seconds int) time.Time {
	return testutil.Epoch.Add(time.Duration(seconds) * time.Second)
}

func product(id string, fields map[string]any, modified time.Time) record.Record {
	return record.Record{
		Type:         record.TypeProduct,
		ID:           id,
		Fields:       fields,
		LastModified: modified,
		Source:       record.SourceLocal,
	}
}

// recordingRemote records pushes and can fail or block them.
type recordingRemote struct {
	mu      sync.Mutex
	pushed  []string
	fail    error
	block   bool
	// release, when set, holds every push until closed, ignoring cancellation.
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func newRecordingRemote() *recordingRemote {
	return &recordingRemote{started: make(chan struct{})}
}

func (r *recordingRemote) push(ctx context.Context, what string) error {
	r.once.Do(func() { close(r.started) })
	r.mu.Lock()
	r.pushed = append(r.pushed, what)
	block, fail, release := r.block, r.fail, r.release
	r.mu.Unlock()

	if release != nil {
		<-release
		return fail
	}
	if block {
		<-ctx.Done()
		return &transport.Error{Kind: transport.KindTransient, Op: what, Err: ctx.Err()}
	}
	return fail
}

func (r *recordingRemote) Create(ctx context.Context, entityType string, payload map[string]any) error {
	id, _ := payload[record.FieldID].(string)
	return r.push(ctx, "create "+entityType+"/"+id)
}

func (r *recordingRemote) Update(ctx context.Context, entityType, id string, _ map[string]any) error {
	return r.push(ctx, "update "+entityType+"/"+id)
}

func (r *recordingRemote) Delete(ctx context.Context, entityType, id string) error {
	return r.push(ctx, "delete "+entityType+"/"+id)
}

func (r *recordingRemote) FetchModifiedSince(context.Context, string, time.Time, int) ([]map[string]any, error) {
	return []map[string]any{}, nil
}

func (r *recordingRemote) Pushed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.pushed...)
}

func newRecordingEngine(t *testing.T, remote *recordingRemote, opts ...Option) (*Engine, *store.Store) {
	t.Helper()
	s := setupTestStore(t)
	base := []Option{
		WithClock(testutil.NewManualClock(time.Time{})),
		WithIDGenerator(testutil.NewSequenceIDs("id")),
		WithLogger(quietLogger()),
	}
	e := New(s, remote, append(base, opts...)...)
	e.SetConnectivity(context.Background(), true)
	return e, s
}
