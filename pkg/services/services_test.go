package services_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvworks/floorsync/pkg/broadcaster"
	"github.com/pvworks/floorsync/pkg/endpoints"
	"github.com/pvworks/floorsync/pkg/logger"
	"github.com/pvworks/floorsync/pkg/models"
	"github.com/pvworks/floorsync/pkg/remote"
	"github.com/pvworks/floorsync/pkg/services"
	"github.com/pvworks/floorsync/pkg/storage"
	"github.com/pvworks/floorsync/pkg/syncqueue"
)

// fakeDoer scripts remote responses and records every request in order.
type fakeDoer struct {
	mu      sync.Mutex
	handler func(req *http.Request) (*http.Response, error)
	itemIDs []string
	paths   []string
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.itemIDs = append(d.itemIDs, req.Header.Get("X-Idempotency-Key"))
	d.paths = append(d.paths, req.Method+" "+req.URL.Path)
	handler := d.handler
	d.mu.Unlock()
	return handler(req)
}

func (d *fakeDoer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.itemIDs)
}

func respond(code int, body string) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
}

type fixture struct {
	svc   *services.Service
	queue *syncqueue.Queue
	store *storage.Storage
	bc    *broadcaster.Broadcaster
	doer  *fakeDoer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue, err := syncqueue.New(db)
	require.NoError(t, err)
	store, err := storage.New(db)
	require.NoError(t, err)

	doer := &fakeDoer{handler: respond(200, "{}")}
	rc, err := remote.NewClient("http://mes.plant.local", remote.WithHTTPClient(doer))
	require.NoError(t, err)

	bc := broadcaster.New()
	svc := services.NewService(queue, endpoints.NewRegistry(), rc, store, bc, nil,
		logger.Discard(), models.RetryPolicy{MaxRetries: 5})
	return &fixture{svc: svc, queue: queue, store: store, bc: bc, doer: doer}
}

func enqueue(t *testing.T, f *fixture, op models.Operation, entityType string, prio models.Priority, payload map[string]any) string {
	t.Helper()
	id, err := f.queue.Enqueue(context.Background(), models.SyncQueueItem{
		Operation: op, EntityType: entityType, Priority: prio, Payload: payload,
	})
	require.NoError(t, err)
	return id
}

func TestEmptyQueueReturnsZeroResultWithoutNetwork(t *testing.T) {
	f := setup(t)
	statusEvents := 0
	f.bc.OnStatus(func(models.StatusEvent) { statusEvents++ })

	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncCycleResult{}, res)
	assert.Equal(t, 0, f.doer.calls())
	assert.Equal(t, 0, statusEvents)
}

func TestCreateRoundTrip(t *testing.T) {
	f := setup(t)
	f.doer.handler = respond(201, `{"id":"p-new"}`)
	enqueue(t, f, models.OpCreate, "panels", models.PriorityMedium, map[string]any{"barcode": "X"})

	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 0, res.Conflicts)

	all, err := f.queue.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, []string{"POST /api/panels"}, f.doer.paths)
}

func TestPriorityOrderingBeatsInsertionOrder(t *testing.T) {
	f := setup(t)
	f.doer.handler = respond(200, "{}")
	lowID := enqueue(t, f, models.OpCreate, "panels", models.PriorityLow, map[string]any{"n": float64(1)})
	highID := enqueue(t, f, models.OpCreate, "panels", models.PriorityHigh, map[string]any{"n": float64(2)})

	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)

	// the later-enqueued high item hits the network first
	assert.Equal(t, []string{highID, lowID}, f.doer.itemIDs)
}

func TestFailureIsolation(t *testing.T) {
	f := setup(t)
	badID := enqueue(t, f, models.OpCreate, "inspections", models.PriorityMedium, map[string]any{"outcome": "pass"})
	enqueue(t, f, models.OpCreate, "panels", models.PriorityMedium, map[string]any{"barcode": "X"})
	f.doer.handler = func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "inspections") {
			return respond(400, `{"error":"bad request"}`)(req)
		}
		return respond(200, "{}")(req)
	}

	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Failed)

	all, err := f.queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, badID, all[0].ID)
	assert.True(t, all[0].Permanent)
	assert.Equal(t, "Client error: HTTP 400: Bad Request", all[0].LastError)
}

func TestConflictResolutionIsDeterministic(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	remoteBody := `{"id":"p1","version":2,"status":"laminated","updatedAt":"2026-03-10T09:30:00Z"}`
	f.doer.handler = respond(409, remoteBody)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.ApplyResolution(ctx, "panels",
			map[string]any{"id": "p1", "version": float64(1), "status": "queued", "updatedAt": "2026-03-10T08:00:00Z"}))
		enqueue(t, f, models.OpUpdate, "panels", models.PriorityHigh,
			map[string]any{"id": "p1", "version": float64(1), "status": "queued", "updatedAt": "2026-03-10T08:00:00Z"})

		res, err := f.svc.SyncWhenOnline(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Processed)
		assert.Equal(t, 1, res.Successful)
		assert.Equal(t, 1, res.Conflicts)
		require.Len(t, res.Outcomes, 1)
		assert.Equal(t, "remote", res.Outcomes[0].Resolution)

		// remote data was applied locally, item removed exactly once
		local, err := f.store.GetEntity(ctx, "panels", "p1")
		require.NoError(t, err)
		assert.Equal(t, "laminated", local["status"])
		assert.Equal(t, float64(2), local["version"])

		all, err := f.queue.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	}
}

func TestDeletionConflictRemoteWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.ApplyResolution(ctx, "panels", map[string]any{"id": "p1", "status": "reworked"}))
	enqueue(t, f, models.OpUpdate, "panels", models.PriorityHigh, map[string]any{"id": "p1", "status": "reworked"})
	f.doer.handler = respond(409, `{"id":"p1","deleted":true}`)

	res, err := f.svc.SyncWhenOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "remote", res.Outcomes[0].Resolution)

	// the remote deletion is authoritative: local copy is gone
	_, err = f.store.GetEntity(ctx, "panels", "p1")
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)
}

func TestServerErrorIsRetryable(t *testing.T) {
	f := setup(t)
	id := enqueue(t, f, models.OpCreate, "panels", models.PriorityLow, map[string]any{"barcode": "X"})
	f.doer.handler = respond(503, "")

	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	all, err := f.queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Server error: HTTP 503: Service Unavailable", all[0].LastError)
	assert.False(t, all[0].Permanent)
	assert.Equal(t, 1, all[0].RetryCount)

	items, err := f.queue.GetItemsNeedingRetry(context.Background(), models.RetryPolicy{MaxRetries: 5})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	f := setup(t)
	enqueue(t, f, models.OpCreate, "panels", models.PriorityLow, map[string]any{"barcode": "X"})
	f.doer.handler = func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	all, err := f.queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, strings.HasPrefix(all[0].LastError, "Network error: "))
	assert.False(t, all[0].Permanent)
}

func TestUnknownTableFailsWithoutNetworkCall(t *testing.T) {
	f := setup(t)
	enqueue(t, f, models.OpCreate, "widgets", models.PriorityHigh, map[string]any{"x": float64(1)})

	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, f.doer.calls())

	all, err := f.queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Permanent)
	assert.Contains(t, all[0].LastError, "unknown table")
}

func TestExclusivity(t *testing.T) {
	f := setup(t)
	enqueue(t, f, models.OpCreate, "panels", models.PriorityHigh, map[string]any{"barcode": "X"})

	entered := make(chan struct{})
	release := make(chan struct{})
	f.doer.handler = func(*http.Request) (*http.Response, error) {
		close(entered)
		<-release
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	}

	type cycleOut struct {
		res models.SyncCycleResult
		err error
	}
	done := make(chan cycleOut, 1)
	go func() {
		res, err := f.svc.SyncWhenOnline(context.Background())
		done <- cycleOut{res, err}
	}()

	<-entered
	_, err := f.svc.SyncWhenOnline(context.Background())
	assert.ErrorIs(t, err, services.ErrSyncInProgress)
	_, err = f.svc.RetryFailedItems(context.Background())
	assert.ErrorIs(t, err, services.ErrSyncInProgress)

	close(release)
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, 1, out.res.Successful)

	// the flag is clear again
	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncCycleResult{}, res)
}

func TestRetryFailedItemsReprocessesOnlyRetryable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	retryID := enqueue(t, f, models.OpCreate, "panels", models.PriorityMedium, map[string]any{"barcode": "X"})
	permID := enqueue(t, f, models.OpCreate, "inspections", models.PriorityMedium, map[string]any{"outcome": "pass"})
	f.doer.handler = func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "inspections") {
			return respond(422, "")(req)
		}
		return respond(500, "")(req)
	}

	_, err := f.svc.SyncWhenOnline(ctx)
	require.NoError(t, err)

	// the server recovers; only the retryable item is replayed
	f.doer.mu.Lock()
	f.doer.itemIDs = nil
	f.doer.handler = respond(200, "{}")
	f.doer.mu.Unlock()

	res, err := f.svc.RetryFailedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, []string{retryID}, f.doer.itemIDs)

	all, err := f.queue.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, permID, all[0].ID)
	assert.True(t, all[0].Permanent)
}

func TestProgressBroadcasts(t *testing.T) {
	f := setup(t)
	f.doer.handler = respond(200, "{}")
	enqueue(t, f, models.OpCreate, "panels", models.PriorityHigh, map[string]any{"n": float64(1)})
	enqueue(t, f, models.OpCreate, "panels", models.PriorityHigh, map[string]any{"n": float64(2)})

	var states []models.SyncState
	var processed []int
	f.bc.OnStatus(func(ev models.StatusEvent) { states = append(states, ev.State) })
	f.bc.OnProgress(func(p models.SyncProgress) { processed = append(processed, p.Processed) })

	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)

	assert.Equal(t, []models.SyncState{models.StateStarting, models.StateCompleted}, states)
	assert.Equal(t, 2, processed[len(processed)-1])
	assert.False(t, f.bc.IsCurrentlySyncing())
	assert.Equal(t, models.StateIdle, f.bc.GetProgress().State)
}

func TestFinalStatusCarriesSummary(t *testing.T) {
	f := setup(t)
	f.doer.handler = respond(200, "{}")
	enqueue(t, f, models.OpCreate, "panels", models.PriorityLow, map[string]any{"n": float64(1)})

	var summary *models.SyncCycleResult
	f.bc.OnStatus(func(ev models.StatusEvent) {
		if ev.State == models.StateCompleted {
			summary = ev.Summary
		}
	})

	res, err := f.svc.SyncWhenOnline(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, res, *summary)
}

func TestGetSyncStats(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	enqueue(t, f, models.OpCreate, "panels", models.PriorityLow, map[string]any{"n": float64(1)})
	failID := enqueue(t, f, models.OpCreate, "panels", models.PriorityLow, map[string]any{"n": float64(2)})
	require.NoError(t, f.queue.MarkFailed(ctx, failID, "Network error: unreachable", false))

	stats, err := f.svc.GetSyncStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, models.HealthWarning, stats.Health)
	assert.True(t, stats.LastSync.IsZero())
}

func TestCleanupOldItems(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	old := models.SyncQueueItem{
		Operation: models.OpCreate, EntityType: "panels", Priority: models.PriorityLow,
		Payload: map[string]any{"n": float64(1)},
	}
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -60)
	id, err := f.queue.Enqueue(ctx, old)
	require.NoError(t, err)
	require.NoError(t, f.queue.MarkFailed(ctx, id, "Client error: HTTP 400: Bad Request", true))

	n, err := f.svc.CleanupOldItems(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
