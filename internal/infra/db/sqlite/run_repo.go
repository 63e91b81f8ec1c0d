// Package sqlite keeps run history in an embedded database file, for
// single-machine installs that have no MySQL or Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	domain "github.com/bryanwahyu/trustinn/internal/domain/runs"
	"github.com/bryanwahyu/trustinn/internal/domain/tools"
)

// Open opens or creates the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	// one writer; also keeps a :memory: database alive across calls
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates tool_runs and its index.
func Migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS tool_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		started_at INTEGER NOT NULL, -- unix millis
		tool TEXT NOT NULL,
		target_file TEXT NOT NULL,
		bound TEXT NOT NULL DEFAULT '',
		input_dir TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		transcript_url TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_tool_runs_tenant_started ON tool_runs(tenant_id, started_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate run history: %w", err)
	}
	return nil
}

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, tenant_id, started_at, tool, target_file, bound, input_dir,
	status, exit_code, duration_ms, message, transcript_url`

func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
	INSERT INTO tool_runs (` + runColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		exit_code = excluded.exit_code,
		duration_ms = excluded.duration_ms,
		message = excluded.message,
		transcript_url = excluded.transcript_url
	`
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		string(run.ID), run.TenantID, started.UnixMilli(), string(run.Tool),
		run.TargetFile, run.Bound, run.InputDir,
		string(run.Status), run.ExitCode, run.DurationMS, run.Message, run.TranscriptURL,
	)
	return err
}

func (r *RunRepository) Get(ctx context.Context, tenant string, id domain.RunID) (*domain.Run, error) {
	q := `SELECT ` + runColumns + ` FROM tool_runs WHERE tenant_id = ? AND id = ?`
	return scanRun(r.db.QueryRowContext(ctx, q, tenant, string(id)))
}

func (r *RunRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + runColumns + ` FROM tool_runs WHERE tenant_id = ? ORDER BY started_at DESC, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *RunRepository) Summary(ctx context.Context, tenant string, since time.Time) (domain.StatusCounts, error) {
	const q = `SELECT status, COUNT(*) FROM tool_runs WHERE tenant_id = ? AND started_at >= ? GROUP BY status`
	rows, err := r.db.QueryContext(ctx, q, tenant, since.UnixMilli())
	if err != nil {
		return domain.StatusCounts{}, err
	}
	defer rows.Close()

	var c domain.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.StatusCounts{}, err
		}
		c.Add(tools.Status(status), n)
	}
	return c, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var (
		r       domain.Run
		id      string
		tool    string
		status  string
		started int64
	)
	if err := row.Scan(
		&id, &r.TenantID, &started, &tool, &r.TargetFile, &r.Bound, &r.InputDir,
		&status, &r.ExitCode, &r.DurationMS, &r.Message, &r.TranscriptURL,
	); err != nil {
		return nil, err
	}
	r.ID = domain.RunID(id)
	r.Tool = tools.ToolID(tool)
	r.Status = tools.Status(status)
	r.StartedAt = time.UnixMilli(started)
	return &r, nil
}
