// Package store handles SQLite persistence of the session ledger.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Status is the outcome of a session.
type Status string

const (
	StatusComplete Status = "complete"
	StatusAborted  Status = "aborted"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Session is one ledger entry.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Prefix    string    `json:"prefix"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Shots     []string  `json:"shots"` // archive paths, in index order
}

// Store wraps SQLite access for the session ledger.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			prefix TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS shots (
			session_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			archive_path TEXT NOT NULL,
			PRIMARY KEY (session_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RecordSession stores a finished or aborted session with its shots.
func (s *Store) RecordSession(ctx context.Context, rec Session) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, ended_at, prefix, status, error) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.EndedAt.UTC().Format(timeLayout),
		rec.Prefix,
		string(rec.Status),
		rec.Error,
	)
	if err != nil {
		return err
	}
	for i, path := range rec.Shots {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO shots (session_id, idx, archive_path) VALUES (?, ?, ?)`,
			rec.ID, i+1, path); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, prefix, status, error FROM sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			rec            Session
			started, ended string
			status         string
		)
		if err := rows.Scan(&rec.ID, &started, &ended, &rec.Prefix, &status, &rec.Error); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		if rec.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, err
		}
		if rec.EndedAt, err = time.Parse(timeLayout, ended); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		shots, err := s.shots(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Shots = shots
	}
	return out, nil
}

func (s *Store) shots(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT archive_path FROM shots WHERE session_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
