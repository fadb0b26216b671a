package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/record"
)

func TestEngine_StartsOffline(t *testing.T) {
	e := New(setupTestStore(t), newRecordingRemote(), WithLogger(quietLogger()))

	assert.Equal(t, StateOffline, e.State())
	assert.Equal(t, PolicyMerge, e.Policy())

	result := e.Tick(context.Background())
	assert.False(t, result.Ran())
	assert.Equal(t, SkipOffline, result.Skipped)
}

func TestEngine_ConnectivityTransitions(t *testing.T) {
	remote := newRecordingRemote()
	e := New(setupTestStore(t), remote,
		WithLogger(quietLogger()),
		WithIDGenerator(NewFixedGenerator("a1", "a2", "a3")),
	)
	ctx := context.Background()

	assert.True(t, e.SetConnectivity(ctx, true))
	assert.Equal(t, StateIdle, e.State())
	assert.False(t, e.SetConnectivity(ctx, true), "already online")

	assert.True(t, e.SetConnectivity(ctx, false))
	assert.Equal(t, StateOffline, e.State())

	trail, err := e.AuditTrail(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "IDLE -> OFFLINE", trail[0].Message)
	assert.Equal(t, "OFFLINE -> IDLE", trail[1].Message)
	assert.Equal(t, record.AuditPhase, trail[0].Kind)
}

func TestUpload_PriorityThenEnqueueOrder(t *testing.T) {
	remote := newRecordingRemote()
	e, _ := newRecordingEngine(t, remote)
	ctx := context.Background()

	// Enqueue order 0, 1, 2 with priorities 90, 90, 50.
	for _, tc := range []struct {
		id       string
		priority int
	}{
		{"enq0", 90},
		{"enq1", 90},
		{"enq2", 50},
	} {
		_, err := e.EnqueuePriority(ctx, record.TypeProduct, tc.id, record.OpUpdate, nil, tc.priority)
		require.NoError(t, err)
	}

	result := e.Tick(ctx)
	require.True(t, result.Ran())
	assert.Equal(t, 3, result.Uploaded)
	assert.Equal(t, []string{
		"update product/enq0",
		"update product/enq1",
		"update product/enq2",
	}, remote.Pushed())
}

func TestUpload_HigherPriorityTypeDrainsFirst(t *testing.T) {
	remote := newRecordingRemote()
	e, _ := newRecordingEngine(t, remote)
	ctx := context.Background()

	_, err := e.Enqueue(ctx, record.TypeProduct, "p1", record.OpDelete, nil)
	require.NoError(t, err)
	_, err = e.Enqueue(ctx, record.TypeTransaction, "t1", record.OpDelete, nil)
	require.NoError(t, err)

	e.Tick(ctx)
	assert.Equal(t, []string{"delete transaction/t1", "delete product/p1"}, remote.Pushed())
}

func TestUpload_MarksSynced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.engine.RecordChange(ctx, product("p1", map[string]any{"price": 9.99}, at(10)), record.OpCreate)
	require.NoError(t, err)

	f.clock.Set(at(20))
	result := f.engine.Tick(ctx)
	assert.Equal(t, 1, result.Uploaded)

	got, _, err := f.store.QueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusSynced, got.Status)
	assert.Equal(t, at(20), got.SyncedAt)

	doc, ok := f.central.Record(record.TypeProduct, "p1")
	require.True(t, ok)
	assert.Equal(t, 9.99, doc["price"])
}

func TestUpload_RejectedItemParksAfterMaxRetries(t *testing.T) {
	f := newFixture(t, WithMaxRetries(3), WithWatchedTypes())
	ctx := context.Background()
	f.central.FailEntityType(record.TypeCustomer, http.StatusUnprocessableEntity)

	item, err := f.engine.Enqueue(ctx, record.TypeCustomer, "c1", record.OpCreate, map[string]any{"id": "c1"})
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		result := f.engine.Tick(ctx)
		assert.Equal(t, 1, result.Retrying, "tick %d", i)
		assert.False(t, result.Aborted, "rejections do not abort the pass")
	}
	result := f.engine.Tick(ctx)
	assert.Equal(t, 1, result.Parked)

	got, _, err := f.store.QueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Contains(t, got.LastError, "422")

	// Never auto-retried, even once the central authority recovers.
	f.central.FailEntityType(record.TypeCustomer, 0)
	f.engine.Tick(ctx)
	assert.Len(t, f.central.RequestsMatching("POST /customers/"), 3)

	status, err := f.engine.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Failed)
	assert.Zero(t, status.Pending)
}

func TestUpload_RejectionDoesNotBlockOtherItems(t *testing.T) {
	f := newFixture(t, WithWatchedTypes())
	ctx := context.Background()
	f.central.FailEntityType(record.TypeCustomer, http.StatusBadRequest)

	_, err := f.engine.Enqueue(ctx, record.TypeCustomer, "c1", record.OpCreate, map[string]any{"id": "c1"})
	require.NoError(t, err)
	_, err = f.engine.Enqueue(ctx, record.TypeProduct, "p1", record.OpCreate, map[string]any{"id": "p1"})
	require.NoError(t, err)

	result := f.engine.Tick(ctx)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 1, result.Retrying)
	assert.Equal(t, 1, f.central.RecordCount(record.TypeProduct))
}

func TestUpload_TransportFailureAbortsPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Enqueue(ctx, record.TypeTransaction, "t1", record.OpCreate, map[string]any{"id": "t1"})
	require.NoError(t, err)
	second, err := f.engine.Enqueue(ctx, record.TypeProduct, "p1", record.OpCreate, map[string]any{"id": "p1"})
	require.NoError(t, err)

	f.central.Close()
	result := f.engine.Tick(ctx)
	assert.True(t, result.Aborted)
	assert.NotEmpty(t, result.Err)
	assert.Equal(t, StateIdle, f.engine.State(), "a failed pass returns to IDLE")

	got, _, err := f.store.QueueItem(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	untouched, _, err := f.store.QueueItem(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, untouched.Status)
	assert.Zero(t, untouched.RetryCount)

	status, err := f.engine.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.LastSyncAt.IsZero(), "aborted passes do not count as a sync")
	require.NotNil(t, status.LastPass)
	assert.True(t, status.LastPass.Aborted)
}

func TestConnectivityLossCancelsPass(t *testing.T) {
	remote := newRecordingRemote()
	remote.block = true
	e, s := newRecordingEngine(t, remote)
	ctx := context.Background()

	item, err := e.Enqueue(ctx, record.TypeProduct, "p1", record.OpUpdate, nil)
	require.NoError(t, err)

	done := make(chan PassResult)
	go func() { done <- e.Tick(ctx) }()

	<-remote.started
	assert.Equal(t, StateSyncing, e.State())

	skipped := e.Tick(ctx)
	assert.Equal(t, SkipAlreadySyncing, skipped.Skipped)

	e.SetConnectivity(ctx, false)
	result := <-done

	assert.True(t, result.Aborted)
	assert.Equal(t, StateOffline, e.State())

	got, _, err := s.QueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, got.Status)
	assert.Zero(t, got.RetryCount, "cancellation is not charged to the item")
}

func TestConnectivityFlap_DoesNotStartSecondPass(t *testing.T) {
	remote := newRecordingRemote()
	remote.release = make(chan struct{})
	e, s := newRecordingEngine(t, remote)
	ctx := context.Background()

	item, err := e.Enqueue(ctx, record.TypeProduct, "p1", record.OpCreate, map[string]any{"id": "p1"})
	require.NoError(t, err)

	done := make(chan PassResult)
	go func() { done <- e.Tick(ctx) }()
	<-remote.started

	// The first pass is cancelled but still stuck in its push.
	require.True(t, e.SetConnectivity(ctx, false))
	require.True(t, e.SetConnectivity(ctx, true))
	assert.Equal(t, StateIdle, e.State())

	second := e.Tick(ctx)
	assert.Equal(t, SkipAlreadySyncing, second.Skipped)

	close(remote.release)
	first := <-done
	assert.True(t, first.Aborted)
	assert.Equal(t, 1, first.Uploaded)
	assert.Equal(t, StateIdle, e.State())

	third := e.Tick(ctx)
	require.True(t, third.Ran())
	assert.Zero(t, third.Uploaded)
	assert.Equal(t, StateIdle, e.State())

	assert.Equal(t, []string{"create product/p1"}, remote.Pushed())
	got, _, err := s.QueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusSynced, got.Status)
}

func TestForceSync_ProbesWhenOffline(t *testing.T) {
	f := newFixture(t, WithWatchedTypes())
	ctx := context.Background()
	f.engine.SetConnectivity(ctx, false)

	f.central.SetHealthy(false)
	result := f.engine.ForceSync(ctx)
	assert.Equal(t, SkipOffline, result.Skipped)

	f.central.SetHealthy(true)
	result = f.engine.ForceSync(ctx)
	assert.True(t, result.Ran())
	assert.Equal(t, TriggerForced, result.Trigger)
	assert.Equal(t, StateIdle, f.engine.State())
}

func TestRecordChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Set(at(5))

	created, err := f.engine.RecordChange(ctx, product("p1", map[string]any{"price": 1.0}, at(1)), record.OpCreate)
	require.NoError(t, err)
	assert.Equal(t, record.OpCreate, created.Operation)
	assert.Equal(t, 30, created.Priority)

	rec := product("p1", map[string]any{"price": 2.0}, time.Time{})
	updated, err := f.engine.RecordChange(ctx, rec, record.OpUpdate)
	require.NoError(t, err)
	assert.Equal(t, 2.0, updated.Payload["price"])

	got, _, err := f.store.Get(ctx, record.TypeProduct, "p1")
	require.NoError(t, err)
	assert.Equal(t, at(5), got.LastModified, "zero LastModified is stamped with now")

	_, err = f.engine.RecordChange(ctx, product("p1", nil, at(6)), record.OpDelete)
	require.NoError(t, err)
	_, found, err := f.store.Get(ctx, record.TypeProduct, "p1")
	require.NoError(t, err)
	assert.False(t, found)

	pending, err := f.store.PendingItems(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	_, err = f.engine.RecordChange(ctx, product("p2", nil, at(1)), "upsert")
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeInvalidOperation, se.Code)
}

func TestRetryFailed(t *testing.T) {
	f := newFixture(t, WithMaxRetries(1), WithWatchedTypes())
	ctx := context.Background()
	f.central.FailEntityType(record.TypeProduct, http.StatusConflict)

	item, err := f.engine.Enqueue(ctx, record.TypeProduct, "p1", record.OpCreate, map[string]any{"id": "p1"})
	require.NoError(t, err)

	assert.True(t, IsNotRetryable(f.engine.RetryFailed(ctx, item.ID)), "pending items are not retryable")

	f.engine.Tick(ctx)
	f.central.FailEntityType(record.TypeProduct, 0)

	require.NoError(t, f.engine.RetryFailed(ctx, item.ID))
	result := f.engine.Tick(ctx)
	assert.Equal(t, 1, result.Uploaded)

	trail, err := f.engine.AuditTrail(ctx, 0)
	require.NoError(t, err)
	var messages []string
	for _, entry := range trail {
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, "item parked as failed")
	assert.Contains(t, messages, "failed item reset to pending")
}
