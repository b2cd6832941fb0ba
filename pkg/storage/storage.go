// Package storage is the local entity store. The engine reads it only
// during conflict resolution to obtain the authoritative local copy, and
// writes resolved data back into it.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEntityNotFound is returned when no local copy of the entity exists.
var ErrEntityNotFound = errors.New("entity not found")

// Storage keeps local entity copies keyed by type and remote id, one JSON
// document per row, in the same SQLite database as the queue.
type Storage struct {
	db *sql.DB
}

// New prepares the entity table on the given database.
func New(db *sql.DB) (*Storage, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create entities table: %w", err)
	}
	return &Storage{db: db}, nil
}

// GetEntity returns the locally held copy of an entity.
func (s *Storage) GetEntity(ctx context.Context, entityType, id string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM entities WHERE entity_type = ? AND entity_id = ?", entityType, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entity %s/%s: %w", entityType, id, err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity %s/%s: %w", entityType, id, err)
	}
	return doc, nil
}

// ApplyResolution writes conflict-resolved data back. A document flagged as
// deleted removes the local copy; anything else is upserted under its
// remote id. Documents without an id are ignored, there is nothing to key
// them on.
func (s *Storage) ApplyResolution(ctx context.Context, entityType string, data map[string]any) error {
	if data == nil {
		return nil
	}
	id, ok := documentID(data)
	if !ok {
		return nil
	}
	if deleted, _ := data["deleted"].(bool); deleted {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM entities WHERE entity_type = ? AND entity_id = ?", entityType, id)
		if err != nil {
			return fmt.Errorf("failed to delete entity %s/%s: %w", entityType, id, err)
		}
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal entity %s/%s: %w", entityType, id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (entity_type, entity_id, data) VALUES (?, ?, ?)
		 ON CONFLICT(entity_type, entity_id) DO UPDATE SET data = excluded.data`,
		entityType, id, string(raw))
	if err != nil {
		return fmt.Errorf("failed to upsert entity %s/%s: %w", entityType, id, err)
	}
	return nil
}

func documentID(doc map[string]any) (string, bool) {
	switch v := doc["id"].(type) {
	case string:
		return v, v != ""
	case float64:
		return fmt.Sprintf("%v", v), true
	default:
		return "", false
	}
}
