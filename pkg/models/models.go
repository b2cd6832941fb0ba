// Package models holds the shared data model of the sync engine.
package models

import "time"

// Operation is the kind of mutation queued against the remote service.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Priority is the cross-item ordering band of a queue item. It is set by
// the caller at enqueue time and never changed by the engine.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// SyncQueueItem is a pending local mutation awaiting remote application.
// Payload is an opaque document; for update/delete it must carry the
// entity's remote identifier under "id", for create it must not assume one.
type SyncQueueItem struct {
	ID         string
	Operation  Operation
	EntityType string
	Payload    map[string]any
	Priority   Priority
	CreatedAt  time.Time
	RetryCount int
	LastError  string
	Permanent  bool
}

// PriorityBands groups pending items by band, FIFO within each.
type PriorityBands struct {
	High   []SyncQueueItem
	Medium []SyncQueueItem
	Low    []SyncQueueItem
}

// Items flattens the bands in processing order: high, then medium, then low.
func (b PriorityBands) Items() []SyncQueueItem {
	out := make([]SyncQueueItem, 0, len(b.High)+len(b.Medium)+len(b.Low))
	out = append(out, b.High...)
	out = append(out, b.Medium...)
	out = append(out, b.Low...)
	return out
}

// ItemOutcome records the fate of one queue item within a cycle.
type ItemOutcome struct {
	ItemID     string
	Success    bool
	Error      string
	Resolution string
}

// SyncCycleResult is the immutable summary of one sync cycle.
type SyncCycleResult struct {
	Processed  int
	Successful int
	Failed     int
	Conflicts  int
	Outcomes   []ItemOutcome
}

// ConflictType classifies how local and remote state diverged.
type ConflictType string

const (
	ConflictVersion        ConflictType = "version"
	ConflictDeletion       ConflictType = "deletion"
	ConflictConcurrentEdit ConflictType = "concurrent-edit"
)

// ConflictRecord is transient conflict context, never persisted.
type ConflictRecord struct {
	LocalData    map[string]any
	RemoteData   map[string]any
	ConflictType ConflictType
}

// SyncState is the per-cycle state machine position.
type SyncState string

const (
	StateIdle      SyncState = "idle"
	StateStarting  SyncState = "starting"
	StateSyncing   SyncState = "syncing"
	StateCompleted SyncState = "completed"
	StateError     SyncState = "error"
)

// SyncProgress is the process-wide progress snapshot, reset at the start of
// each cycle and frozen at its end.
type SyncProgress struct {
	Total       int
	Processed   int
	CurrentItem string
	State       SyncState
}

// StatusEvent is broadcast on cycle transitions. Summary is set on the
// final event of a cycle.
type StatusEvent struct {
	State   SyncState
	Total   int
	Summary *SyncCycleResult
	Err     string
}

// SyncHealth is the derived qualitative score of the queue backlog.
type SyncHealth string

const (
	HealthGood     SyncHealth = "good"
	HealthWarning  SyncHealth = "warning"
	HealthCritical SyncHealth = "critical"
)

// QueueStats summarizes the queue. Failed counts items with at least one
// recorded failure of either class; Permanent breaks out the subset that is
// excluded from automatic retry.
type QueueStats struct {
	Pending       int
	Failed        int
	Permanent     int
	AvgRetryCount float64
}

// SyncStats is the operator-facing view combining queue state with the
// orchestrator's last successful cycle timestamp.
type SyncStats struct {
	Pending  int
	Failed   int
	LastSync time.Time
	Health   SyncHealth
}

// RetryPolicy bounds automatic retries of retryable failures.
type RetryPolicy struct {
	MaxRetries int
}
