// Package syncqueue is the persisted ledger of pending local mutations.
// Items live in a single SQLite table; every mutation is one statement, so
// a process restart mid-cycle leaves the ledger consistent.
package syncqueue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/pvworks/floorsync/pkg/encription"
	"github.com/pvworks/floorsync/pkg/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Health thresholds. good: no item has been retried. warning: average retry
// count below warningAvgRetry and backlog below warningPending. Anything
// else, including the boundary values themselves, is critical.
const (
	warningAvgRetry = 2.0
	warningPending  = 50
)

// ErrNotFound is returned when the referenced item is no longer queued.
var ErrNotFound = errors.New("queue item not found")

// Queue is the SQLite-backed sync queue. When enc is set, the payload
// column is stored encrypted at rest.
type Queue struct {
	db  *sql.DB
	enc *encription.Enc
}

// Option configures a Queue.
type Option func(*Queue)

// WithEncryption stores payloads encrypted with the given cipher.
func WithEncryption(enc *encription.Enc) Option {
	return func(q *Queue) { q.enc = enc }
}

// New wraps an already-open database and applies migrations.
func New(db *sql.DB, opts ...Option) (*Queue, error) {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	q := &Queue{db: db}
	for _, o := range opts {
		o(q)
	}
	return q, nil
}

// Open opens (or creates) the queue database at path.
func Open(path string, opts ...Option) (*Queue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	return New(db, opts...)
}

// Close closes the underlying database.
func (q *Queue) Close() error { return q.db.Close() }

// DB exposes the underlying database so collaborators (the local entity
// store) can share the same file.
func (q *Queue) DB() *sql.DB { return q.db }

// Enqueue appends a mutation to the ledger and returns its id. A missing id
// is assigned, a missing creation time is stamped with the current UTC time.
func (q *Queue) Enqueue(ctx context.Context, item models.SyncQueueItem) (string, error) {
	switch item.Operation {
	case models.OpCreate, models.OpUpdate, models.OpDelete:
	default:
		return "", fmt.Errorf("invalid operation %q", item.Operation)
	}
	switch item.Priority {
	case models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
	default:
		return "", fmt.Errorf("invalid priority %q", item.Priority)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	payload, err := q.encodePayload(item.Payload)
	if err != nil {
		return "", err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO sync_queue (id, operation, entity_type, payload, priority, created_at, retry_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		item.ID, string(item.Operation), item.EntityType, payload, string(item.Priority), item.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue item: %w", err)
	}
	return item.ID, nil
}

// GetAll returns every queued item in enqueue order.
func (q *Queue) GetAll(ctx context.Context) ([]models.SyncQueueItem, error) {
	return q.query(ctx, "", nil)
}

// GetPendingByPriority groups items eligible for a sync cycle by band,
// preserving enqueue order within each band. Permanently failed items are
// excluded; they require manual intervention.
func (q *Queue) GetPendingByPriority(ctx context.Context) (models.PriorityBands, error) {
	var bands models.PriorityBands
	items, err := q.query(ctx, "WHERE permanent = 0", nil)
	if err != nil {
		return bands, err
	}
	for _, it := range items {
		switch it.Priority {
		case models.PriorityHigh:
			bands.High = append(bands.High, it)
		case models.PriorityMedium:
			bands.Medium = append(bands.Medium, it)
		default:
			bands.Low = append(bands.Low, it)
		}
	}
	return bands, nil
}

// GetItemsNeedingRetry returns items with a recorded retryable failure that
// are still under the policy's retry ceiling, ordered by priority band and
// enqueue order within it.
func (q *Queue) GetItemsNeedingRetry(ctx context.Context, policy models.RetryPolicy) ([]models.SyncQueueItem, error) {
	return q.query(ctx,
		`WHERE last_error != '' AND permanent = 0 AND retry_count < ?
		 ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, seq`,
		[]any{policy.MaxRetries})
}

// MarkSynced removes a successfully applied item. Removing an item that is
// already gone returns ErrNotFound, so removal happens exactly once.
func (q *Queue) MarkSynced(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failure against an item. The item stays queued;
// retryable failures bump the retry counter, permanent ones additionally
// exclude the item from the automatic retry candidate set.
func (q *Queue) MarkFailed(ctx context.Context, id string, reason string, permanent bool) error {
	p := 0
	if permanent {
		p = 1
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ?, permanent = MAX(permanent, ?)
		 WHERE id = ?`, reason, p, id)
	if err != nil {
		return fmt.Errorf("failed to mark item %s failed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Update applies a partial update to an item. Only payload, last_error,
// retry_count and permanent are writable; identity and ordering columns are
// fixed for the item's lifetime.
func (q *Queue) Update(ctx context.Context, id string, partial map[string]any) error {
	sets := make([]string, 0, len(partial))
	args := make([]any, 0, len(partial)+1)
	for key, value := range partial {
		switch key {
		case "payload":
			doc, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("payload must be a document")
			}
			encoded, err := q.encodePayload(doc)
			if err != nil {
				return err
			}
			value = encoded
		case "last_error", "retry_count", "permanent":
		default:
			return fmt.Errorf("column %q is not updatable", key)
		}
		sets = append(sets, key+" = ?")
		args = append(args, value)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := q.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE sync_queue SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearOldItems purges items older than maxAgeDays that are permanently
// failed or past the retry ceiling, returning the purge count.
func (q *Queue) ClearOldItems(ctx context.Context, maxAgeDays int, maxRetries int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM sync_queue WHERE created_at < ? AND (permanent = 1 OR retry_count >= ?)",
		cutoff, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to clear old items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetStats reports queue counters. Pending counts items still eligible for
// a cycle; Failed counts items with any recorded failure.
func (q *Queue) GetStats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	row := q.db.QueryRowContext(ctx,
		`SELECT
		    COUNT(CASE WHEN permanent = 0 THEN 1 END),
		    COUNT(CASE WHEN last_error != '' THEN 1 END),
		    COUNT(CASE WHEN permanent = 1 THEN 1 END),
		    COALESCE(AVG(retry_count), 0)
		 FROM sync_queue`)
	if err := row.Scan(&stats.Pending, &stats.Failed, &stats.Permanent, &stats.AvgRetryCount); err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return stats, nil
}

// GetHealthStatus classifies the queue against the documented thresholds.
func (q *Queue) GetHealthStatus(ctx context.Context) (models.SyncHealth, error) {
	var retried int
	var avg float64
	var pending int
	row := q.db.QueryRowContext(ctx,
		`SELECT
		    COUNT(CASE WHEN retry_count > 0 THEN 1 END),
		    COALESCE(AVG(retry_count), 0),
		    COUNT(CASE WHEN permanent = 0 THEN 1 END)
		 FROM sync_queue`)
	if err := row.Scan(&retried, &avg, &pending); err != nil {
		return "", fmt.Errorf("failed to read queue health: %w", err)
	}
	if retried == 0 {
		return models.HealthGood, nil
	}
	if avg < warningAvgRetry && pending < warningPending {
		return models.HealthWarning, nil
	}
	return models.HealthCritical, nil
}

func (q *Queue) query(ctx context.Context, clause string, args []any) ([]models.SyncQueueItem, error) {
	if !strings.Contains(clause, "ORDER BY") {
		clause += " ORDER BY seq"
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, operation, entity_type, payload, priority, created_at, retry_count, last_error, permanent
		 FROM sync_queue `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var items []models.SyncQueueItem
	for rows.Next() {
		var it models.SyncQueueItem
		var op, prio, payload string
		var permanent int
		if err := rows.Scan(&it.ID, &op, &it.EntityType, &payload, &prio, &it.CreatedAt, &it.RetryCount, &it.LastError, &permanent); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		it.Operation = models.Operation(op)
		it.Priority = models.Priority(prio)
		it.Permanent = permanent == 1
		it.Payload, err = q.decodePayload(payload)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows encountered an error: %w", err)
	}
	return items, nil
}

func (q *Queue) encodePayload(doc map[string]any) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	if q.enc == nil {
		return string(raw), nil
	}
	return q.enc.Encrypt(string(raw))
}

func (q *Queue) decodePayload(stored string) (map[string]any, error) {
	raw := stored
	if q.enc != nil {
		var err error
		raw, err = q.enc.Decrypt(stored)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt payload: %w", err)
		}
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return doc, nil
}
