package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists snapshots in a sqlite database. The full snapshot is
// stored as one JSON document; indexed columns exist only for lookups.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("snapshot: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("snapshot: ping sqlite: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		request_id TEXT PRIMARY KEY,
		spec TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_spec ON snapshots(spec);
	CREATE INDEX IF NOT EXISTS idx_snapshots_status ON snapshots(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("snapshot: migrate: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert stores the snapshot, preserving creation time on conflict.
func (s *SQLiteStore) Upsert(ctx context.Context, snap *Snapshot) error {
	if snap == nil || strings.TrimSpace(snap.RequestID) == "" {
		return fmt.Errorf("snapshot: request id is required")
	}
	now := time.Now().UTC()
	stored := snap.clone()
	stored.UpdatedAt = now
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", snap.RequestID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (request_id, spec, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			spec = excluded.spec,
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		stored.RequestID, stored.Spec, string(stored.Status), string(data), stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return fmt.Errorf("snapshot: upsert %s: %w", snap.RequestID, err)
	}
	return nil
}

// Get returns the snapshot for a request id. CreatedAt reflects the first
// upsert even when the JSON document was written by a later one.
func (s *SQLiteStore) Get(ctx context.Context, requestID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, updated_at FROM snapshots WHERE request_id = ?`, requestID)
	var data string
	var createdAt, updatedAt time.Time
	if err := row.Scan(&data, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("snapshot: get %s: %w", requestID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", requestID, err)
	}
	snap.CreatedAt = createdAt.UTC()
	snap.UpdatedAt = updatedAt.UTC()
	return &snap, nil
}

// Delete removes the snapshot for a request id.
func (s *SQLiteStore) Delete(ctx context.Context, requestID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE request_id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", requestID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", requestID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return nil
}
