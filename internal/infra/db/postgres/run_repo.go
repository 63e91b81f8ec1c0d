package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/trustinn/internal/domain/runs"
	"github.com/bryanwahyu/trustinn/internal/domain/tools"
)

type RunRepository struct{ db *sql.DB }

func NewRunRepository(db *sql.DB) *RunRepository { return &RunRepository{db: db} }

// Save insert/update Run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO tool_runs
(id, tenant_id, started_at, tool, target_file, bound, input_dir,
 status, exit_code, duration_ms, message, transcript_url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 exit_code = EXCLUDED.exit_code,
 duration_ms = EXCLUDED.duration_ms,
 message = EXCLUDED.message,
 transcript_url = EXCLUDED.transcript_url;`

	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		run.ID, stringOrDash(run.TenantID), started, stringOrDash(string(run.Tool)),
		run.TargetFile, run.Bound, run.InputDir,
		stringOrDash(string(run.Status)), run.ExitCode, run.DurationMS, run.Message, run.TranscriptURL,
	)
	return err
}

// Get by ID + Tenant
func (r *RunRepository) Get(ctx context.Context, tenant string, id domain.RunID) (*domain.Run, error) {
	q := `SELECT ` + runColumns + ` FROM tool_runs WHERE tenant_id=$1 AND id=$2 LIMIT 1;`
	return scanRun(r.db.QueryRowContext(ctx, q, tenant, id))
}

// Latest runs per tenant
func (r *RunRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + runColumns + ` FROM tool_runs WHERE tenant_id=$1 ORDER BY started_at DESC LIMIT $2;`
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

// Summary counts runs per status since a cut-off
func (r *RunRepository) Summary(ctx context.Context, tenant string, since time.Time) (domain.StatusCounts, error) {
	const q = `SELECT status, COUNT(*) FROM tool_runs WHERE tenant_id=$1 AND started_at >= $2 GROUP BY status;`
	rows, err := r.db.QueryContext(ctx, q, tenant, since)
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
