package postgres

import (
	"strings"

	domain "github.com/bryanwahyu/trustinn/internal/domain/runs"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

const runColumns = `id, tenant_id, started_at, tool, target_file, bound, input_dir,
       status, exit_code, duration_ms, message, transcript_url`

func scanRun(row rowScanner) (*domain.Run, error) {
	var r domain.Run
	if err := row.Scan(
		&r.ID, &r.TenantID, &r.StartedAt, &r.Tool, &r.TargetFile, &r.Bound, &r.InputDir,
		&r.Status, &r.ExitCode, &r.DurationMS, &r.Message, &r.TranscriptURL,
	); err != nil {
		return nil, err
	}
	return &r, nil
}
