// Package runlog persists pipeline run history in an embedded SQLite
// database. The orchestrator records every run; the daemon and the CLI read
// recent entries back out.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cstaal88/mina-pipeline/internal/models"
)

const timeFmt = time.RFC3339

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	topic       TEXT NOT NULL,
	mode        TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	fetched     INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	scraped     INTEGER NOT NULL DEFAULT 0,
	added       INTEGER NOT NULL DEFAULT 0,
	steps       TEXT,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS runs_topic ON runs(topic);
`

// Store is the pipeline run ledger.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path, applying the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one completed run. A missing id is filled with a new uuid
// and written back to the record.
func (s *Store) Record(ctx context.Context, r *models.RunRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	var steps []byte
	if len(r.Steps) > 0 {
		var err error
		steps, err = json.Marshal(r.Steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(id, topic, mode, started_at, finished_at, fetched, skipped, scraped, added, steps, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Topic, string(r.Mode),
		r.StartedAt.UTC().Format(timeFmt), r.FinishedAt.UTC().Format(timeFmt),
		r.Fetched, r.Skipped, r.Scraped, r.Added, steps, r.Error)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first. A non-empty topic
// filters to that topic. Limit defaults to 20 and caps at 500.
func (s *Store) RecentRuns(ctx context.Context, topic string, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT id, topic, mode, started_at, finished_at, fetched, skipped, scraped, added, steps, error
		FROM runs`
	args := []any{}
	if topic != "" {
		query += " WHERE topic = ?"
		args = append(args, topic)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		var mode, startedAt, finishedAt string
		var steps sql.NullString
		if err := rows.Scan(&r.ID, &r.Topic, &mode, &startedAt, &finishedAt,
			&r.Fetched, &r.Skipped, &r.Scraped, &r.Added, &steps, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Mode = models.RunMode(mode)
		r.StartedAt = parseTime(startedAt)
		r.FinishedAt = parseTime(finishedAt)
		if steps.Valid && steps.String != "" {
			if err := json.Unmarshal([]byte(steps.String), &r.Steps); err != nil {
				return nil, fmt.Errorf("decode steps: %w", err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func parseTime(s string) time.Time {
	for _, format := range []string{timeFmt, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
