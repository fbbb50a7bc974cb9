// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledger records one row per finished session in a SQLite database
// under the artifacts root, so operators can inspect runs across sessions
// without walking session directories.
//
// Ledger failures are logged by callers and never fail a session.
package ledger

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one finished session.
type Entry struct {
	SessionID    string
	TaskHash     string
	Status       string
	Approved     bool
	ApprovalRate float64
	RoundsUsed   int
	DurationMs   int64
	CreatedAt    time.Time
}

// DB wraps the ledger database.
type DB struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	task_hash     TEXT NOT NULL,
	status        TEXT NOT NULL,
	approved      INTEGER NOT NULL,
	approval_rate REAL NOT NULL,
	rounds_used   INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);`

// Open opens (creating if needed) the ledger at <artifactsRoot>/aav3.db.
func Open(artifactsRoot string) (*DB, error) {
	path := filepath.Join(artifactsRoot, "aav3.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &DB{db: db}, nil
}

// TaskHash fingerprints a task text for cross-run grouping without storing
// the prose itself.
func TaskHash(task string) string {
	sum := sha256.Sum256([]byte(task))
	return hex.EncodeToString(sum[:8])
}

// Record inserts (or replaces) a finished session.
func (d *DB) Record(e Entry) error {
	approved := 0
	if e.Approved {
		approved = 1
	}
	_, err := d.db.Exec(`INSERT OR REPLACE INTO sessions
		(id, task_hash, status, approved, approval_rate, rounds_used, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.TaskHash, e.Status, approved, e.ApprovalRate,
		e.RoundsUsed, e.DurationMs, e.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record session %s: %w", e.SessionID, err)
	}
	return nil
}

// Recent returns up to n sessions, newest first.
func (d *DB) Recent(n int) ([]Entry, error) {
	rows, err := d.db.Query(`SELECT id, task_hash, status, approved, approval_rate,
		rounds_used, duration_ms, created_at
		FROM sessions ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var approved int
		var created string
		if err := rows.Scan(&e.SessionID, &e.TaskHash, &e.Status, &approved,
			&e.ApprovalRate, &e.RoundsUsed, &e.DurationMs, &created); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.Approved = approved != 0
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (d *DB) Close() error { return d.db.Close() }
