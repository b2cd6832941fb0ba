// Package services drives sync cycles end to end: it drains the queue
// against the remote service, classifies outcomes, resolves conflicts and
// reports statistics and health.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pvworks/floorsync/pkg/broadcaster"
	"github.com/pvworks/floorsync/pkg/endpoints"
	"github.com/pvworks/floorsync/pkg/logger"
	"github.com/pvworks/floorsync/pkg/models"
	"github.com/pvworks/floorsync/pkg/remote"
	"github.com/pvworks/floorsync/pkg/resolver"
	"github.com/pvworks/floorsync/pkg/syncerr"
	"github.com/pvworks/floorsync/pkg/syncinfo"
	"github.com/pvworks/floorsync/pkg/syncqueue"
)

// ErrSyncInProgress is returned when a second cycle is requested while one
// is active. This is the only condition that propagates to the caller; it
// signals misuse, not a data-path failure.
var ErrSyncInProgress = errors.New("sync already in progress")

// EntityStore is the local entity store collaborator, read during conflict
// resolution and written with resolved data.
type EntityStore interface {
	GetEntity(ctx context.Context, entityType, id string) (map[string]any, error)
	ApplyResolution(ctx context.Context, entityType string, data map[string]any) error
}

// Service is the sync orchestrator. Construct it once at the composition
// root and inject it wherever sync is triggered.
type Service struct {
	queue    *syncqueue.Queue
	registry *endpoints.Registry
	remote   *remote.Client
	store    EntityStore
	bc       *broadcaster.Broadcaster
	syncInfo *syncinfo.SyncManager
	log      logger.LoggerInterface
	policy   models.RetryPolicy

	mu      sync.Mutex
	syncing bool
}

// NewService wires the orchestrator. store and syncInfo may be nil; conflict
// resolution then falls back to the queued payload, and lastSync is not
// persisted.
func NewService(queue *syncqueue.Queue, registry *endpoints.Registry, rc *remote.Client,
	store EntityStore, bc *broadcaster.Broadcaster, syncInfo *syncinfo.SyncManager,
	log logger.LoggerInterface, policy models.RetryPolicy) *Service {
	return &Service{
		queue:    queue,
		registry: registry,
		remote:   rc,
		store:    store,
		bc:       bc,
		syncInfo: syncInfo,
		log:      log,
		policy:   policy,
	}
}

// SyncWhenOnline drains the currently pending queue in one cycle: bands
// strictly high→medium→low, FIFO within a band, items one at a time so
// mutations against the same entity keep their causal order. An empty queue
// returns a zero result without touching the network.
func (s *Service) SyncWhenOnline(ctx context.Context) (models.SyncCycleResult, error) {
	if !s.begin() {
		return models.SyncCycleResult{}, ErrSyncInProgress
	}
	defer s.end()

	bands, err := s.queue.GetPendingByPriority(ctx)
	if err != nil {
		s.bc.PublishStatus(models.StatusEvent{State: models.StateError, Err: err.Error()})
		s.bc.SetIdle()
		return models.SyncCycleResult{}, err
	}
	items := bands.Items()
	if len(items) == 0 {
		return models.SyncCycleResult{}, nil
	}
	return s.processItems(ctx, items), nil
}

// RetryFailedItems re-runs the per-item pipeline over queue items with a
// retryable failure still under the retry ceiling. It shares the
// exclusivity flag with SyncWhenOnline.
func (s *Service) RetryFailedItems(ctx context.Context) (models.SyncCycleResult, error) {
	if !s.begin() {
		return models.SyncCycleResult{}, ErrSyncInProgress
	}
	defer s.end()

	items, err := s.queue.GetItemsNeedingRetry(ctx, s.policy)
	if err != nil {
		s.bc.PublishStatus(models.StatusEvent{State: models.StateError, Err: err.Error()})
		s.bc.SetIdle()
		return models.SyncCycleResult{}, err
	}
	if len(items) == 0 {
		return models.SyncCycleResult{}, nil
	}
	return s.processItems(ctx, items), nil
}

// CleanupOldItems purges stale queue items and returns the purge count.
func (s *Service) CleanupOldItems(ctx context.Context, maxAgeDays int) (int, error) {
	return s.queue.ClearOldItems(ctx, maxAgeDays, s.policy.MaxRetries)
}

// GetSyncStats combines queue stats and health with the timestamp of the
// last completed cycle.
func (s *Service) GetSyncStats(ctx context.Context) (models.SyncStats, error) {
	qs, err := s.queue.GetStats(ctx)
	if err != nil {
		return models.SyncStats{}, err
	}
	health, err := s.queue.GetHealthStatus(ctx)
	if err != nil {
		return models.SyncStats{}, err
	}
	stats := models.SyncStats{Pending: qs.Pending, Failed: qs.Failed, Health: health}
	if s.syncInfo != nil {
		stats.LastSync = s.syncInfo.GetSyncInfo().LastSync
	}
	return stats, nil
}

// Broadcaster exposes the observer interface of the engine.
func (s *Service) Broadcaster() *broadcaster.Broadcaster { return s.bc }

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing {
		return false
	}
	s.syncing = true
	return true
}

func (s *Service) end() {
	s.mu.Lock()
	s.syncing = false
	s.mu.Unlock()
}

// processItems runs the shared per-item pipeline. A single item's failure
// never aborts the remaining items.
func (s *Service) processItems(ctx context.Context, items []models.SyncQueueItem) models.SyncCycleResult {
	res := models.SyncCycleResult{}
	total := len(items)

	s.bc.PublishStatus(models.StatusEvent{State: models.StateStarting, Total: total})
	s.bc.PublishProgress(models.SyncProgress{Total: total, State: models.StateSyncing})

	for i, item := range items {
		s.bc.PublishProgress(models.SyncProgress{
			Total: total, Processed: i, CurrentItem: item.ID, State: models.StateSyncing,
		})

		outcome := s.processItem(ctx, item)
		res.Processed++
		if outcome.Success {
			res.Successful++
		} else {
			res.Failed++
		}
		if outcome.Resolution != "" {
			res.Conflicts++
		}
		res.Outcomes = append(res.Outcomes, outcome)

		s.bc.PublishProgress(models.SyncProgress{
			Total: total, Processed: i + 1, CurrentItem: item.ID, State: models.StateSyncing,
		})
	}

	s.log.Printf("sync cycle done: processed=%d successful=%d failed=%d conflicts=%d",
		res.Processed, res.Successful, res.Failed, res.Conflicts)

	if s.syncInfo != nil {
		if err := s.syncInfo.UpdateAndSaveSyncInfo(syncinfo.SyncInfo{LastSync: time.Now().UTC()}); err != nil {
			s.log.Printf("failed to persist last sync time: %v", err)
		}
	}

	s.bc.PublishProgress(models.SyncProgress{Total: total, Processed: total, State: models.StateCompleted})
	s.bc.PublishStatus(models.StatusEvent{State: models.StateCompleted, Total: total, Summary: &res})
	s.bc.SetIdle()
	return res
}

// processItem resolves the endpoint, issues the remote call and classifies
// the response into the failure taxonomy.
func (s *Service) processItem(ctx context.Context, item models.SyncQueueItem) models.ItemOutcome {
	req, err := s.registry.BuildRequest(item.Operation, item.EntityType, item.Payload)
	if err != nil {
		// Configuration errors are permanent and made without any network call.
		return s.fail(ctx, item, err.Error(), true)
	}

	resp, err := s.remote.Execute(ctx, req.Method, req.Path, req.Body, item.ID)
	if err != nil {
		return s.fail(ctx, item, syncerr.Network(err).Error(), false)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := s.queue.MarkSynced(ctx, item.ID); err != nil {
			s.log.Printf("failed to remove synced item %s: %v", item.ID, err)
		}
		return models.ItemOutcome{ItemID: item.ID, Success: true}

	case resp.StatusCode == 409:
		return s.resolveConflict(ctx, item, resp)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return s.fail(ctx, item, syncerr.Client(resp.StatusCode, resp.StatusText).Error(), true)

	default:
		return s.fail(ctx, item, syncerr.Server(resp.StatusCode, resp.StatusText).Error(), false)
	}
}

func (s *Service) fail(ctx context.Context, item models.SyncQueueItem, reason string, permanent bool) models.ItemOutcome {
	if err := s.queue.MarkFailed(ctx, item.ID, reason, permanent); err != nil {
		s.log.Printf("failed to record failure for item %s: %v", item.ID, err)
	}
	s.log.Printf("item %s (%s %s): %s", item.ID, item.Operation, item.EntityType, reason)
	return models.ItemOutcome{ItemID: item.ID, Success: false, Error: reason}
}

// resolveConflict handles a 409: the response body is the authoritative
// remote entity, the local entity store supplies localData (falling back to
// the queued payload), and the resolver's decision is applied locally
// before the item is removed.
func (s *Service) resolveConflict(ctx context.Context, item models.SyncQueueItem, resp *remote.Response) models.ItemOutcome {
	var remoteData map[string]any
	if err := json.Unmarshal(resp.Body, &remoteData); err != nil {
		remoteData = map[string]any{}
	}

	localData := item.Payload
	if id, ok := item.Payload["id"].(string); ok && id != "" && s.store != nil {
		if stored, err := s.store.GetEntity(ctx, item.EntityType, id); err == nil {
			localData = stored
		}
	}

	conflict := models.ConflictRecord{
		LocalData:    localData,
		RemoteData:   remoteData,
		ConflictType: classifyConflict(item, localData, remoteData),
	}
	desc, _ := s.registry.Resolve(item.EntityType)
	resolution := resolver.Resolve(conflict, item, desc.SafetyRelevant)

	if s.store != nil {
		if err := s.store.ApplyResolution(ctx, item.EntityType, resolution.ResolvedData); err != nil {
			return s.fail(ctx, item, syncerr.Conflict(err).Error(), false)
		}
	}
	if err := s.queue.MarkSynced(ctx, item.ID); err != nil {
		s.log.Printf("failed to remove resolved item %s: %v", item.ID, err)
	}
	s.log.Printf("item %s: %s conflict resolved as %s", item.ID, conflict.ConflictType, resolution.Strategy)
	return models.ItemOutcome{ItemID: item.ID, Success: true, Resolution: string(resolution.Strategy)}
}

// classifyConflict types the divergence: a delete on either side is a
// deletion conflict, both sides carrying a version counter is a version
// conflict, anything else is a concurrent edit.
func classifyConflict(item models.SyncQueueItem, local, remoteDoc map[string]any) models.ConflictType {
	if item.Operation == models.OpDelete {
		return models.ConflictDeletion
	}
	if deleted, _ := remoteDoc["deleted"].(bool); deleted {
		return models.ConflictDeletion
	}
	if hasVersion(local) && hasVersion(remoteDoc) {
		return models.ConflictVersion
	}
	return models.ConflictConcurrentEdit
}

func hasVersion(doc map[string]any) bool {
	switch doc["version"].(type) {
	case float64, int, json.Number:
		return true
	default:
		return false
	}
}
