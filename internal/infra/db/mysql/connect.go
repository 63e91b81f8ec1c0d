package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
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
  id             VARCHAR(64)  NOT NULL PRIMARY KEY,
  tenant_id      VARCHAR(128) NOT NULL,
  started_at     DATETIME(3)  NOT NULL,
  tool           VARCHAR(32)  NOT NULL,
  target_file    TEXT         NOT NULL,
  bound          VARCHAR(32)  NOT NULL DEFAULT '',
  input_dir      TEXT         NOT NULL,
  status         VARCHAR(16)  NOT NULL,
  exit_code      INT          NOT NULL DEFAULT 0,
  duration_ms    BIGINT       NOT NULL DEFAULT 0,
  message        TEXT         NOT NULL,
  transcript_url TEXT         NOT NULL,
  INDEX idx_tool_runs_tenant_started (tenant_id, started_at)
);`

// Migrate bikin tabel tool_runs kalau belum ada
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
