// Package sqlite implements the snapshot store on a local SQLite database.
// The schema is created on open; plan items are stored as JSON-encoded CRDT
// state so a restored plan merges exactly like a live one.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/meshwork/internal/crdt"
	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/plansync"
)

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	plan_json TEXT NOT NULL,
	vector_clock TEXT NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL DEFAULT 0,
	source_node TEXT NOT NULL DEFAULT '',
	taken_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS plan_items (
	plan_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	state TEXT NOT NULL,
	PRIMARY KEY (plan_id, item_id),
	FOREIGN KEY (plan_id) REFERENCES plans(id)
);
CREATE TABLE IF NOT EXISTS plan_operations (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL,
	type TEXT NOT NULL,
	item_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}',
	source_node TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	vector_clock TEXT NOT NULL DEFAULT '{}'
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_ops_plan_ts ON plan_operations(plan_id, timestamp);
`

// Store persists snapshots and operation logs in SQLite.
type Store struct {
	db *sql.DB
}

// New opens the database at path, creating parent dirs and the schema.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite indexes: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection. Call on shutdown for clean exit.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SavePlan upserts the snapshot: the plan row plus one row per item's CRDT
// state, replacing whatever was stored before.
func (s *Store) SavePlan(snap *plansync.PlanSnapshot) error {
	if snap == nil || snap.Plan.ID == "" {
		return fmt.Errorf("%w: snapshot missing plan", domain.ErrInvalid)
	}
	planJSON, err := json.Marshal(snap.Plan)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", snap.Plan.ID, err)
	}
	clockJSON, err := json.Marshal(snap.VectorClock)
	if err != nil {
		return fmt.Errorf("encode clock for %s: %w", snap.Plan.ID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO plans (id, plan_json, vector_clock, version, source_node, taken_at) VALUES (?, ?, ?, ?, ?, ?)",
		snap.Plan.ID, string(planJSON), string(clockJSON), snap.Version, snap.SourceNode, snap.TakenAt); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM plan_items WHERE plan_id = ?", snap.Plan.ID); err != nil {
		return err
	}
	for itemID, state := range snap.Items {
		stateJSON, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode item %s/%s: %w", snap.Plan.ID, itemID, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO plan_items (plan_id, item_id, state) VALUES (?, ?, ?)",
			snap.Plan.ID, itemID, string(stateJSON)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadPlan rebuilds the stored snapshot.
func (s *Store) LoadPlan(id string) (*plansync.PlanSnapshot, error) {
	var planJSON, clockJSON, sourceNode string
	var version int
	var takenAt int64
	err := s.db.QueryRow(
		"SELECT plan_json, vector_clock, version, source_node, taken_at FROM plans WHERE id = ?", id).
		Scan(&planJSON, &clockJSON, &version, &sourceNode, &takenAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}

	snap := &plansync.PlanSnapshot{
		Items:      make(map[string]crdt.ItemState),
		Version:    version,
		SourceNode: sourceNode,
		TakenAt:    takenAt,
	}
	if err := json.Unmarshal([]byte(planJSON), &snap.Plan); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(clockJSON), &snap.VectorClock); err != nil {
		return nil, fmt.Errorf("decode clock for %s: %w", id, err)
	}

	rows, err := s.db.Query("SELECT item_id, state FROM plan_items WHERE plan_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("plan_items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var itemID, stateJSON string
		if err := rows.Scan(&itemID, &stateJSON); err != nil {
			return nil, err
		}
		var state crdt.ItemState
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return nil, fmt.Errorf("decode item %s/%s: %w", id, itemID, err)
		}
		snap.Items[itemID] = state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("plan_items iteration: %w", err)
	}
	return snap, nil
}

// ListPlans returns every stored plan id.
func (s *Store) ListPlans() ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM plans ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("plans iteration: %w", err)
	}
	return out, nil
}

// AppendOperations inserts operations, skipping ids already stored.
func (s *Store) AppendOperations(ops []*domain.PlanOperation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, op := range ops {
		payload, err := json.Marshal(op.Payload)
		if err != nil {
			return fmt.Errorf("encode op %s payload: %w", op.ID, err)
		}
		clock, err := json.Marshal(op.VectorClock)
		if err != nil {
			return fmt.Errorf("encode op %s clock: %w", op.ID, err)
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO plan_operations (id, plan_id, type, item_id, payload, source_node, timestamp, vector_clock) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			op.ID, op.PlanID, string(op.Type), op.ItemID, string(payload), op.SourceNode, op.Timestamp, string(clock)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadOperations returns the plan's operations after sinceMillis, oldest first.
func (s *Store) LoadOperations(planID string, sinceMillis int64) ([]*domain.PlanOperation, error) {
	rows, err := s.db.Query(
		"SELECT id, plan_id, type, item_id, payload, source_node, timestamp, vector_clock FROM plan_operations WHERE plan_id = ? AND timestamp > ? ORDER BY timestamp, id",
		planID, sinceMillis)
	if err != nil {
		return nil, fmt.Errorf("plan_operations: %w", err)
	}
	defer rows.Close()
	var out []*domain.PlanOperation
	for rows.Next() {
		var op domain.PlanOperation
		var typ, payload, clock string
		if err := rows.Scan(&op.ID, &op.PlanID, &typ, &op.ItemID, &payload, &op.SourceNode, &op.Timestamp, &clock); err != nil {
			return nil, err
		}
		op.Type = domain.OperationType(typ)
		if payload != "" && payload != "{}" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &op.Payload); err != nil {
				return nil, fmt.Errorf("decode op %s payload: %w", op.ID, err)
			}
		}
		if err := json.Unmarshal([]byte(clock), &op.VectorClock); err != nil {
			return nil, fmt.Errorf("decode op %s clock: %w", op.ID, err)
		}
		out = append(out, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("plan_operations iteration: %w", err)
	}
	return out, nil
}
