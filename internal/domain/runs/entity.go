package runs

import (
	"errors"
	"time"

	"github.com/bryanwahyu/trustinn/internal/domain/tools"
)

// ErrBusy dikembalikan kalau tenant masih punya run yang aktif.
var ErrBusy = errors.New("a run is already in progress")

// RunID tipe untuk Run
type RunID string

// Run is the persisted record of one tool execution.
type Run struct {
	ID            RunID        `json:"id"`
	TenantID      string       `json:"tenant_id"`
	Tool          tools.ToolID `json:"tool"`
	TargetFile    string       `json:"target_file"`
	Bound         string       `json:"bound,omitempty"`
	InputDir      string       `json:"input_dir,omitempty"`
	Status        tools.Status `json:"status"`
	ExitCode      int          `json:"exit_code"`
	DurationMS    int64        `json:"duration_ms"`
	Message       string       `json:"message,omitempty"`
	TranscriptURL string       `json:"transcript_url,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
}

// StatusCounts rekap jumlah run per status
type StatusCounts struct {
	Total      int `json:"total"`
	Success    int `json:"success"`
	ToolError  int `json:"tool_error"`
	SpawnError int `json:"spawn_error"`
	Rejected   int `json:"rejected"`
	Canceled   int `json:"canceled"`
}

// Add counts one run with status s.
func (c *StatusCounts) Add(s tools.Status, n int) {
	c.Total += n
	switch s {
	case tools.StatusSuccess:
		c.Success += n
	case tools.StatusToolError:
		c.ToolError += n
	case tools.StatusSpawnError:
		c.SpawnError += n
	case tools.StatusRejected:
		c.Rejected += n
	case tools.StatusCanceled:
		c.Canceled += n
	}
}
