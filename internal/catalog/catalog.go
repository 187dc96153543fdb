// Package catalog keeps a SQLite index of finished runs keyed by experiment
// metadata so parameter sweeps can be compared side by side.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cwbudde/millifluidic/internal/pipeline"
)

// ErrNotFound is returned when a run is not in the catalog.
var ErrNotFound = errors.New("run not in catalog")

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New opens the catalog database.
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the catalog tables if they do not exist.
func (db *DB) RunMigrations() error {
	migration := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    experiment TEXT NOT NULL,
    flow_rate REAL NOT NULL,
    alpha REAL NOT NULL,
    location TEXT NOT NULL,
    designator TEXT NOT NULL,
    records INTEGER NOT NULL,
    final_area REAL NOT NULL,
    data_dir TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment);

CREATE TABLE IF NOT EXISTS area_samples (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    record_index INTEGER NOT NULL,
    key REAL NOT NULL,
    area REAL NOT NULL,
    PRIMARY KEY (run_id, seq),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`
	if _, err := db.Exec(migration); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Entry is one catalogued run.
type Entry struct {
	ID         string
	Experiment string
	FlowRate   float64 // mL/min
	Alpha      float64
	Location   string
	Designator string
	Records    int
	FinalArea  float64
	DataDir    string // run directory in the filesystem store
	CreatedAt  time.Time
}

// Filter narrows ListRuns. Zero fields match everything.
type Filter struct {
	Experiment string
	Location   string
	Limit      int
}

// RecordRun inserts or replaces a run and its area series in one transaction.
func (db *DB) RecordRun(ctx context.Context, e Entry, samples []pipeline.AreaSample) error {
	if e.ID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, e.ID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, experiment, flow_rate, alpha, location, designator, records, final_area, data_dir, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Experiment, e.FlowRate, e.Alpha, e.Location, e.Designator,
		e.Records, e.FinalArea, e.DataDir, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO area_samples (run_id, seq, record_index, key, area) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i, s := range samples {
		if _, err := stmt.ExecContext(ctx, e.ID, i, s.Index, s.Key, s.Area); err != nil {
			return fmt.Errorf("failed to insert area sample %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns catalogued runs ordered by flow rate, then alpha.
func (db *DB) ListRuns(ctx context.Context, f Filter) ([]Entry, error) {
	query := `
		SELECT id, experiment, flow_rate, alpha, location, designator, records, final_area, data_dir, created_at
		FROM runs
	`

	args := []interface{}{}
	conditions := []string{}

	if f.Experiment != "" {
		conditions = append(conditions, "experiment = ?")
		args = append(args, f.Experiment)
	}
	if f.Location != "" {
		conditions = append(conditions, "location = ?")
		args = append(args, f.Location)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY flow_rate, alpha, created_at"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID,
			&e.Experiment,
			&e.FlowRate,
			&e.Alpha,
			&e.Location,
			&e.Designator,
			&e.Records,
			&e.FinalArea,
			&e.DataDir,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}

	return entries, nil
}

// AreaSeries returns the stored area series of a run in fold order.
func (db *DB) AreaSeries(ctx context.Context, runID string) ([]pipeline.AreaSample, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up run: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := db.QueryContext(ctx,
		`SELECT record_index, key, area FROM area_samples WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query area series: %w", err)
	}
	defer rows.Close()

	samples := []pipeline.AreaSample{}
	for rows.Next() {
		var s pipeline.AreaSample
		if err := rows.Scan(&s.Index, &s.Key, &s.Area); err != nil {
			return nil, fmt.Errorf("failed to scan area sample: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating area rows: %w", err)
	}
	return samples, nil
}

// DeleteRun removes a run and its samples.
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
