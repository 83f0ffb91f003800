package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amishk599/runwatch/internal/model"
)

// Ensure SQLiteStore implements model.NotificationLedger.
var _ model.NotificationLedger = (*SQLiteStore)(nil)

// SQLiteStore records which task ids have already been announced, so a job
// re-attached after a restart is not announced twice. It stores no results.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures the
// notified_jobs table exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	createTable := `CREATE TABLE IF NOT EXISTS notified_jobs (
		task_id     TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		notified_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating notified_jobs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// HasNotified returns true if the given task id has already been announced.
func (s *SQLiteStore) HasNotified(handle model.JobHandle) (bool, error) {
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM notified_jobs WHERE task_id = ?", string(handle)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking notification for %s: %w", handle, err)
	}
	return true, nil
}

// MarkNotified records a task id with its terminal status. If it already
// exists the call is a no-op.
func (s *SQLiteStore) MarkNotified(handle model.JobHandle, status model.Status) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO notified_jobs (task_id, status) VALUES (?, ?)", string(handle), string(status))
	if err != nil {
		return fmt.Errorf("marking %s as notified: %w", handle, err)
	}
	return nil
}

// Cleanup deletes entries older than the given duration.
func (s *SQLiteStore) Cleanup(olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	_, err := s.db.Exec("DELETE FROM notified_jobs WHERE notified_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("cleaning up notifications older than %v: %w", olderThan, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
