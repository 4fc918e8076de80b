package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sambaleuk/crossroads/pkg/models"
)

// SessionRecord is one row of run history.
type SessionRecord struct {
	ID          string
	PRDName     string
	RepoPath    string
	BaseBranch  string
	Phase       models.SessionPhase
	StartedAt   time.Time
	CompletedAt *time.Time
}

// SlotResult is one slot's outcome within a session.
type SlotResult struct {
	SessionID string
	Slot      int
	Agent     models.AgentKind
	Action    models.ActionKind
	Branch    string
	Lifecycle models.SlotLifecycle
	ExitCode  *int
	LastError string
}

// RecordSession inserts or replaces a session row.
func (db *DB) RecordSession(rec *SessionRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var completed interface{}
	if rec.CompletedAt != nil {
		completed = rec.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO sessions (id, prd_name, repo_path, base_branch, phase, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.PRDName, rec.RepoPath, rec.BaseBranch, string(rec.Phase),
		rec.StartedAt.UTC().Format(time.RFC3339), completed)
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// RecordSlotResult inserts or replaces a slot outcome row.
func (db *DB) RecordSlotResult(res *SlotResult) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var exitCode interface{}
	if res.ExitCode != nil {
		exitCode = *res.ExitCode
	}
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO slot_results (session_id, slot, agent, action, branch, lifecycle, exit_code, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, res.SessionID, res.Slot, string(res.Agent), string(res.Action), res.Branch,
		string(res.Lifecycle), exitCode, res.LastError)
	if err != nil {
		return fmt.Errorf("record slot result: %w", err)
	}
	return nil
}

// LatestSession returns the most recently started session, or nil if the
// database is empty.
func (db *DB) LatestSession() (*SessionRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.conn.QueryRow(`
		SELECT id, prd_name, repo_path, base_branch, phase, started_at, completed_at
		FROM sessions ORDER BY started_at DESC LIMIT 1
	`)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListSessions returns run history, newest first.
func (db *DB) ListSessions(limit int) ([]*SessionRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`
		SELECT id, prd_name, repo_path, base_branch, phase, started_at, completed_at
		FROM sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SlotResults returns the slot outcomes for a session, by slot number.
func (db *DB) SlotResults(sessionID string) ([]*SlotResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`
		SELECT session_id, slot, agent, action, branch, lifecycle, exit_code, last_error
		FROM slot_results WHERE session_id = ? ORDER BY slot
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list slot results: %w", err)
	}
	defer rows.Close()

	var out []*SlotResult
	for rows.Next() {
		res := &SlotResult{}
		var agent, action, lifecycle string
		var exitCode sql.NullInt64
		var lastError sql.NullString
		if err := rows.Scan(&res.SessionID, &res.Slot, &agent, &action, &res.Branch,
			&lifecycle, &exitCode, &lastError); err != nil {
			return nil, fmt.Errorf("scan slot result: %w", err)
		}
		res.Agent = models.AgentKind(agent)
		res.Action = models.ActionKind(action)
		res.Lifecycle = models.SlotLifecycle(lifecycle)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			res.ExitCode = &code
		}
		res.LastError = lastError.String
		out = append(out, res)
	}
	return out, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(s scanner) (*SessionRecord, error) {
	rec := &SessionRecord{}
	var phase, startedAt string
	var completedAt sql.NullString
	if err := s.Scan(&rec.ID, &rec.PRDName, &rec.RepoPath, &rec.BaseBranch, &phase, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	rec.Phase = models.SessionPhase(phase)

	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = t

	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		rec.CompletedAt = &t
	}
	return rec, nil
}
