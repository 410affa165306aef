package rollback

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS snapshots (
    action_id    TEXT PRIMARY KEY,
    action_type  TEXT NOT NULL,
    agent_id     TEXT NOT NULL,
    snapshot_data TEXT NOT NULL,
    captured_at  TEXT NOT NULL,
    expires_at   TEXT,
    restored     INTEGER DEFAULT 0
)`

type snapshotData struct {
	State    map[string]any `json:"state"`
	Metadata map[string]any `json:"metadata"`
}

// SnapshotStore is the durable SQLite backing table for snapshots. It
// survives process restarts; the in-memory LRU in Manager is only a
// read-through cache over it.
type SnapshotStore struct {
	db   *sql.DB
	path string
}

// DefaultStorePath resolves the default snapshot database location under
// the user's home directory.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".actionguard")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return filepath.Join(dir, "snapshots.db"), nil
}

// OpenSnapshotStore opens (creating if needed) the snapshot database at
// the given path.
func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if _, err := db.Exec(createSnapshotsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("init snapshot table: %w", err)
	}
	return &SnapshotStore{db: db, path: path}, nil
}

func (s *SnapshotStore) Close() error { return s.db.Close() }

// Put upserts a snapshot row.
func (s *SnapshotStore) Put(snapshot Snapshot, agentID string) error {
	data, err := json.Marshal(snapshotData{State: snapshot.State, Metadata: snapshot.Metadata})
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snapshot.ActionID, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO snapshots
		 (action_id, action_type, agent_id, snapshot_data, captured_at)
		 VALUES (?, ?, ?, ?, ?)`,
		snapshot.ActionID,
		snapshot.ActionType,
		agentID,
		string(data),
		snapshot.CapturedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("persist snapshot %s: %w", snapshot.ActionID, err)
	}
	return nil
}

// Get loads a snapshot row, returning ErrSnapshotNotFound when missing.
func (s *SnapshotStore) Get(actionID string) (Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT action_id, action_type, snapshot_data, captured_at
		 FROM snapshots WHERE action_id = ?`, actionID)

	var snap Snapshot
	var data, capturedAt string
	if err := row.Scan(&snap.ActionID, &snap.ActionType, &data, &capturedAt); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", actionID, err)
	}

	var payload snapshotData
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", actionID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s timestamp: %w", actionID, err)
	}

	snap.State = payload.State
	snap.Metadata = payload.Metadata
	snap.CapturedAt = ts
	return snap, nil
}

// MarkRestored flips the restored flag for a snapshot row.
func (s *SnapshotStore) MarkRestored(actionID string) error {
	_, err := s.db.Exec(`UPDATE snapshots SET restored = 1 WHERE action_id = ?`, actionID)
	return err
}

// Delete removes a snapshot row.
func (s *SnapshotStore) Delete(actionID string) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE action_id = ?`, actionID)
	return err
}

// DeleteOlderThan removes rows captured before the cutoff and returns
// how many were deleted.
func (s *SnapshotStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM snapshots WHERE captured_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListActionIDs returns every action_id with a persisted snapshot.
func (s *SnapshotStore) ListActionIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT action_id FROM snapshots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Clear wipes every snapshot row.
func (s *SnapshotStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM snapshots`)
	return err
}
