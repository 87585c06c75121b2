package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// DefaultKeep is the number of snapshots retained by Save.
const DefaultKeep = 20

// DB keeps snapshots in an SQLite database. Every save stores the full
// snapshot document and refreshes flat task and agent tables that can be
// queried directly.
type DB struct {
	conn *sql.DB
	path string
	keep int
	mu   sync.RWMutex
}

// DataDir returns the directory for aime data files.
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "aime")
}

// DefaultDBPath returns the path to the default state database.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "state.db")
}

// OpenDB opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func OpenDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

	return &DB{conn: conn, path: path, keep: DefaultKeep}, nil
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

// SetKeep sets how many snapshots Save retains. Zero keeps all of them.
func (db *DB) SetKeep(n int) {
	db.mu.Lock()
	db.keep = n
	db.mu.Unlock()
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
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
		{1, migrationV1Snapshots},
		{2, migrationV2Tasks},
		{3, migrationV3Agents},
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
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Snapshots = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	schema_version INTEGER NOT NULL,
	taken_at DATETIME NOT NULL,
	body TEXT NOT NULL
);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	parent_id TEXT,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	assigned_agent TEXT,
	output TEXT,
	reason TEXT,
	created_at DATETIME NOT NULL,
	ended_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks(parent_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const migrationV3Agents = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	capabilities TEXT,
	created_at DATETIME NOT NULL
);
`

// Save stores snap and refreshes the task and agent tables in one transaction.
func (db *DB) Save(ctx context.Context, snap progress.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	db.mu.RLock()
	keep := db.keep
	db.mu.RUnlock()

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO snapshots (schema_version, taken_at, body) VALUES (?, ?, ?)",
			snap.SchemaVersion, formatTime(snap.TakenAt), string(body)); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		if keep > 0 {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)",
				keep); err != nil {
				return fmt.Errorf("prune snapshots: %w", err)
			}
		}
		for _, t := range snap.Tasks {
			if err := upsertTask(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, a := range snap.Agents {
			caps, _ := json.Marshal(a.Capabilities)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO agents (id, kind, capabilities, created_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO NOTHING
			`, a.ID, a.Kind, string(caps), formatTime(a.CreatedAt)); err != nil {
				return fmt.Errorf("insert agent %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

func upsertTask(ctx context.Context, tx *sql.Tx, t models.Task) error {
	var output, reason sql.NullString
	if t.Result != nil {
		output = sql.NullString{String: t.Result.Output, Valid: true}
		reason = sql.NullString{String: t.Result.Reason, Valid: t.Result.Reason != ""}
	}
	var ended sql.NullString
	if t.EndedAt != nil {
		ended = sql.NullString{String: formatTime(*t.EndedAt), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, parent_id, description, status, assigned_agent, output, reason, created_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assigned_agent = excluded.assigned_agent,
			output = excluded.output,
			reason = excluded.reason,
			ended_at = excluded.ended_at
	`, t.ID, nullable(t.ParentID), t.Description, string(t.Status), nullable(t.AssignedAgent),
		output, reason, formatTime(t.CreatedAt), ended)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// Load returns the most recent snapshot.
func (db *DB) Load(ctx context.Context) (progress.Snapshot, error) {
	var body string
	err := db.QueryRow(ctx, "SELECT body FROM snapshots ORDER BY id DESC LIMIT 1").Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return progress.Snapshot{}, progress.ErrNoSnapshot
	}
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snap progress.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return progress.Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, nil
}

// TaskRow is a flat row of the tasks table.
type TaskRow struct {
	ID            string
	ParentID      string
	Description   string
	Status        models.TaskStatus
	AssignedAgent string
	Output        string
	Reason        string
	CreatedAt     time.Time
	EndedAt       *time.Time
}

// TasksByStatus lists task rows with the given status, oldest first.
func (db *DB) TasksByStatus(ctx context.Context, status models.TaskStatus) ([]TaskRow, error) {
	rows, err := db.Query(ctx, `
		SELECT id, parent_id, description, status, assigned_agent, output, reason, created_at, ended_at
		FROM tasks WHERE status = ? ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRow
	for rows.Next() {
		var (
			r                             TaskRow
			parent, agent, output, reason sql.NullString
			statusText, createdAt         string
			endedAt                       sql.NullString
		)
		if err := rows.Scan(&r.ID, &parent, &r.Description, &statusText, &agent, &output, &reason, &createdAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		r.ParentID = parent.String
		r.AssignedAgent = agent.String
		r.Output = output.String
		r.Reason = reason.String
		r.Status = models.TaskStatus(statusText)
		r.CreatedAt, _ = parseTime(createdAt)
		r.EndedAt = parseNullableTime(endedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SnapshotCount returns the number of stored snapshots.
func (db *DB) SnapshotCount(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// Query executes a query that returns rows.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
