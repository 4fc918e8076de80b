// Package state provides SQLite-based run history for crossroads. The
// project-local database (.crossroads/state.db) records sessions and their
// per-slot outcomes so that `crossroads status` can show run history after a
// crash. Resume does not read this database; it reuses the status document.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// ProjectDBPath returns the path to the project-local database.
func ProjectDBPath(repoPath string) string {
	return filepath.Join(repoPath, ".crossroads", "state.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// OpenProject opens the project-local database for a repository.
func OpenProject(repoPath string) (*DB, error) {
	return Open(ProjectDBPath(repoPath))
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// migrate applies pending schema migrations.
func (db *DB) migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Sessions},
		{2, migrationV2SlotResults},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Sessions = `
CREATE TABLE sessions (
	id TEXT PRIMARY KEY,
	prd_name TEXT NOT NULL,
	repo_path TEXT NOT NULL,
	base_branch TEXT NOT NULL,
	phase TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT
);
`

const migrationV2SlotResults = `
CREATE TABLE slot_results (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	slot INTEGER NOT NULL,
	agent TEXT NOT NULL,
	action TEXT NOT NULL,
	branch TEXT NOT NULL,
	lifecycle TEXT NOT NULL,
	exit_code INTEGER,
	last_error TEXT,
	PRIMARY KEY (session_id, slot)
);
`
