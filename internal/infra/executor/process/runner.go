package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/bryanwahyu/trustinn/internal/domain/tools"
)

const defaultWaitDelay = 2 * time.Second

// Runner executes invocations as child processes and captures their output
// in full. The zero value is ready to use.
type Runner struct {
	Dir string
	Env []string // appended to the parent environment
	// WaitDelay bounds how long Wait blocks on open pipes after a kill.
	WaitDelay time.Duration
}

func NewRunner() *Runner { return &Runner{} }

func (r *Runner) Run(ctx context.Context, inv tools.Invocation) tools.Outcome {
	start := time.Now()
	if len(inv.Argv) == 0 {
		return tools.Outcome{Status: tools.StatusSpawnError, ExitCode: -1, Err: errors.New("empty command line")}
	}

	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureProcessGroup(cmd)
	cmd.Cancel = func() error { return KillGroup(cmd) }
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	if err := cmd.Start(); err != nil {
		out := tools.Outcome{Status: tools.StatusSpawnError, ExitCode: -1, Err: err, Duration: time.Since(start)}
		if ctx.Err() != nil {
			out.Status = tools.StatusCanceled
			out.Err = ctx.Err()
		}
		return out
	}

	waitErr := cmd.Wait()
	status, code, err := ExitStatus(ctx, cmd.ProcessState, waitErr)
	return tools.Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: code,
		Status:   status,
		Err:      err,
		Duration: time.Since(start),
	}
}

// ExitStatus classifies the result of Wait. A clean exit wins over a late
// cancellation; a kill caused by ctx is reported as canceled.
func ExitStatus(ctx context.Context, state *os.ProcessState, waitErr error) (tools.Status, int, error) {
	code := -1
	if state != nil {
		code = state.ExitCode()
	}
	if waitErr == nil {
		return tools.StatusSuccess, code, nil
	}
	if ctx.Err() != nil {
		return tools.StatusCanceled, code, ctx.Err()
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		return tools.StatusToolError, code, ee
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) && state != nil {
		if state.Success() {
			return tools.StatusSuccess, code, nil
		}
		return tools.StatusToolError, code, errors.New(state.String())
	}
	return tools.StatusSpawnError, code, waitErr
}
