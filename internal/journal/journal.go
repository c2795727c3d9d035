// Package journal persists the last state both machines agreed on. The
// three-way resolver uses it as the merge base.
package journal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/orchnova/vmsync/internal/db"
	"github.com/orchnova/vmsync/internal/snapshot"
)

const schema = `
CREATE TABLE IF NOT EXISTS merge_base (
    path TEXT PRIMARY KEY,
    hash TEXT NOT NULL,
    modified_at INTEGER NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    synced_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_runs (
    run_id TEXT PRIMARY KEY,
    direction TEXT NOT NULL,
    files INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);
`

type Journal struct {
	db   *sqlx.DB
	mu   sync.RWMutex
	path string
	now  func() time.Time
}

// Run is one completed transfer.
type Run struct {
	RunID      string `db:"run_id"`
	Direction  string `db:"direction"`
	Files      int    `db:"files"`
	FinishedAt int64  `db:"finished_at"`
}

// Open opens the journal at path, creating the schema on first use.
// An empty path opens an in-memory journal.
func Open(path string) (*Journal, error) {
	var opts []db.Option
	if path != "" {
		opts = append(opts, db.WithPath(path))
	}
	conn, err := db.Open(opts...)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: conn, path: path, now: time.Now}, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	slog.Debug("journal closed", "path", j.path)
	return j.db.Close()
}

// Base returns the merge base as a snapshot. An empty journal yields an
// empty snapshot, which the three-way resolver treats as "no base".
func (j *Journal) Base() (*snapshot.Snapshot, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var recs []snapshot.FileRecord
	if err := j.db.Select(&recs, "SELECT path, hash, modified_at, size FROM merge_base"); err != nil {
		return nil, fmt.Errorf("query merge base: %w", err)
	}

	base := snapshot.New("base", "")
	for i := range recs {
		base.Add(&recs[i])
	}
	return base, nil
}

// Replace swaps the merge base for records in a single transaction.
func (j *Journal) Replace(records []*snapshot.FileRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM merge_base"); err != nil {
		return fmt.Errorf("clear merge base: %w", err)
	}

	stmt, err := tx.Preparex("INSERT INTO merge_base (path, hash, modified_at, size, synced_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	syncedAt := j.now().Unix()
	for _, rec := range records {
		if _, err := stmt.Exec(rec.RelPath, rec.Hash, rec.ModifiedAt, rec.Size, syncedAt); err != nil {
			return fmt.Errorf("insert %s: %w", rec.RelPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge base: %w", err)
	}
	slog.Debug("journal merge base replaced", "files", len(records))
	return nil
}

// Count returns the number of paths in the merge base.
func (j *Journal) Count() (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var n int
	if err := j.db.Get(&n, "SELECT COUNT(*) FROM merge_base"); err != nil {
		return 0, fmt.Errorf("count merge base: %w", err)
	}
	return n, nil
}

// RecordRun appends a completed transfer to the run history.
func (j *Journal) RecordRun(run Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if run.FinishedAt == 0 {
		run.FinishedAt = j.now().Unix()
	}
	_, err := j.db.NamedExec(
		"INSERT OR REPLACE INTO sync_runs (run_id, direction, files, finished_at) VALUES (:run_id, :direction, :files, :finished_at)",
		run,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.RunID, err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(limit int) ([]Run, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var runs []Run
	err := j.db.Select(&runs, "SELECT run_id, direction, files, finished_at FROM sync_runs ORDER BY finished_at DESC, run_id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return runs, nil
}
