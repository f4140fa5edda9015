package settings

import (
	"fmt"
	"time"
)

// Run is one completed mutating index operation.
type Run struct {
	ID         int64     `json:"id"`
	Op         string    `json:"op"`
	Path       string    `json:"path,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	Files      int       `json:"files"`
	Chunks     int       `json:"chunks"`
	Error      string    `json:"error,omitempty"`
}

// RecordRun appends r to the history of namespace.
func (db *DB) RecordRun(namespace string, r Run) error {
	_, err := db.conn.Exec(`
		INSERT INTO index_runs (namespace, op, path, started_at, duration_ms, files, chunks, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		namespace, r.Op, r.Path, r.StartedAt.UTC(), r.DurationMs, r.Files, r.Chunks, r.Error)
	if err != nil {
		return fmt.Errorf("settings: record run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs of namespace, newest first.
func (db *DB) Runs(namespace string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, op, path, started_at, duration_ms, files, chunks, error
		FROM index_runs WHERE namespace = ? ORDER BY id DESC LIMIT ?`, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("settings: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Op, &r.Path, &r.StartedAt, &r.DurationMs, &r.Files, &r.Chunks, &r.Error); err != nil {
			return nil, fmt.Errorf("settings: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
