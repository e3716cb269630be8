// fleetupdate history: a sqlite record of completed update runs.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package history records one row per completed update run for
// audit/troubleshooting, in the teacher's internal/database.DB
// shape (sql.Open("sqlite", ...), Migrate, prepared statements). It is
// optional and injected, never required by pkg/update's core
// pipeline, matching spec.md §5's "no process-wide state intrinsic to
// the core".
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the run-history database connection.
type DB struct {
	conn *sql.DB
}

// Open connects to (creating if absent) the sqlite database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Migrate creates the update_runs table if it does not already exist.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS update_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		descriptor_timestamp DATETIME,
		signed BOOLEAN NOT NULL DEFAULT false,
		files_updated INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_update_runs_started_at ON update_runs(started_at)`)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Run describes one completed Coordinator.Run for recording and
// retrieval.
type Run struct {
	RunID                string
	DescriptorTimestamp  time.Time
	Signed               bool
	FilesUpdated         int
	Outcome              string
	Duration             time.Duration
	StartedAt, FinishedAt time.Time
}

// RecordRun inserts one Run.
func (db *DB) RecordRun(ctx context.Context, r Run) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO update_runs
			(run_id, descriptor_timestamp, signed, files_updated, outcome, duration_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.DescriptorTimestamp, r.Signed, r.FilesUpdated, r.Outcome,
		r.Duration.Milliseconds(), r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("history: record run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent limit runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_id, descriptor_timestamp, signed, files_updated, outcome, duration_ms, started_at, finished_at
		FROM update_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var durationMS int64
		if err := rows.Scan(&r.RunID, &r.DescriptorTimestamp, &r.Signed, &r.FilesUpdated,
			&r.Outcome, &durationMS, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return out, nil
}
