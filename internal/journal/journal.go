// Package journal keeps one row per orchestrator run for the history command.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// StatusRunning marks a run that has started but not recorded an outcome.
const StatusRunning = "running"

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one journal row.
type Run struct {
	ID        string
	GoalID    string
	Goal      string
	Status    string
	Reason    string
	Result    string
	Rounds    int
	StartedAt time.Time
	EndedAt   *time.Time
}

// Finished returns true once an outcome has been recorded.
func (r Run) Finished() bool {
	return r.Status != StatusRunning
}

// Journal manages the run history database.
type Journal struct {
	db *sql.DB
}

// DefaultPath returns the journal path under the user's data directory.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "aime", "journal.db")
}

// Open opens the journal at dbPath, creating it if needed.
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			goal_id TEXT NOT NULL,
			goal TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			result TEXT,
			rounds INT NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &Journal{db: db}, nil
}

// RecordStart inserts a running row for a new run.
func (j *Journal) RecordStart(ctx context.Context, runID, goalID, goal string, startedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, goal_id, goal, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, goalID, goal, StatusRunning, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordOutcome closes the row of o.RunID. A run that was never started is
// inserted whole.
func (j *Journal) RecordOutcome(ctx context.Context, o *models.Outcome) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, goal_id, goal, status, reason, result, rounds, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			result = excluded.result,
			rounds = excluded.rounds,
			ended_at = excluded.ended_at
	`, o.RunID, o.GoalID, o.Goal, string(o.Status), o.Reason, o.Result, o.Rounds, o.StartedAt.UTC(), o.EndedAt.UTC())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

const runColumns = `id, goal_id, goal, status, reason, result, rounds, started_at, ended_at`

// Get retrieves a run by ID.
func (j *Journal) Get(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// List returns up to limit runs, newest first. A limit of zero lists all.
func (j *Journal) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r              Run
		reason, result sql.NullString
		ended          sql.NullTime
	)
	err := s.Scan(&r.ID, &r.GoalID, &r.Goal, &r.Status, &reason, &result, &r.Rounds, &r.StartedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Reason = reason.String
	r.Result = result.String
	if ended.Valid {
		t := ended.Time
		r.EndedAt = &t
	}
	return &r, nil
}
