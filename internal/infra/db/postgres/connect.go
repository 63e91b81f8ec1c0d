package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tool_runs (
  id             TEXT        PRIMARY KEY,
  tenant_id      TEXT        NOT NULL,
  started_at     TIMESTAMPTZ NOT NULL,
  tool           TEXT        NOT NULL,
  target_file    TEXT        NOT NULL,
  bound          TEXT        NOT NULL DEFAULT '',
  input_dir      TEXT        NOT NULL DEFAULT '',
  status         TEXT        NOT NULL,
  exit_code      INTEGER     NOT NULL DEFAULT 0,
  duration_ms    BIGINT      NOT NULL DEFAULT 0,
  message        TEXT        NOT NULL DEFAULT '',
  transcript_url TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tool_runs_tenant_started ON tool_runs (tenant_id, started_at DESC);`

// Migrate creates tool_runs and its index.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
