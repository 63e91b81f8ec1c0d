// Package streaming runs interactive tools on a pseudo-terminal so they keep
// their live progress output, and relays that output line by line.
package streaming

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/bryanwahyu/trustinn/internal/domain/tools"
	"github.com/bryanwahyu/trustinn/internal/infra/executor/process"
)

const (
	defaultDrainTimeout = 2 * time.Second
	flushWait           = 100 * time.Millisecond
)

// Streamer implements tools.Streamer on top of a PTY pair.
type Streamer struct {
	Dir  string
	Env  []string
	Size *pty.Winsize
	// DrainTimeout is how long the terminal may stay silent after the child
	// exits or is killed before descendants holding it open are cut off.
	DrainTimeout time.Duration
}

func NewStreamer() *Streamer { return &Streamer{} }

// Stream starts inv on a new terminal and calls emit for every line, in the
// order the child wrote them. emit runs on the calling goroutine.
func (s *Streamer) Stream(ctx context.Context, inv tools.Invocation, emit func(line string)) tools.Outcome {
	start := time.Now()
	if emit == nil {
		emit = func(string) {}
	}
	if len(inv.Argv) == 0 {
		return tools.Outcome{Status: tools.StatusSpawnError, ExitCode: -1, Err: errors.New("empty command line")}
	}
	if err := ctx.Err(); err != nil {
		return tools.Outcome{Status: tools.StatusCanceled, ExitCode: -1, Err: err}
	}

	cmd := exec.Command(inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	// pty.Start puts the child in a new session, so its pid is also the
	// process group KillGroup targets.
	tty, err := pty.StartWithSize(cmd, s.Size)
	if err != nil {
		return tools.Outcome{Status: tools.StatusSpawnError, ExitCode: -1, Err: err, Duration: time.Since(start)}
	}
	defer tty.Close()

	lines := make(chan string, 64)
	readDone := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)
	go func(out chan<- string) {
		defer close(out)
		readDone <- readLines(tty, out, quit)
	}(lines)

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var (
		collected []string
		waitErr   error
		exited    bool
		idle      *time.Timer
		idleC     <-chan time.Time
		cancel    = ctx.Done()
	)
	// The idle timer runs only once the child is gone and restarts on every
	// line, so a slow emit never loses output the reader already has.
	resetIdle := func() {
		if idle == nil {
			idle = time.NewTimer(s.drainTimeout())
			idleC = idle.C
			return
		}
		idle.Reset(s.drainTimeout())
	}
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()

	// Leave only when the child is reaped and the terminal is drained, or the
	// terminal stayed silent for the drain timeout after the child exited.
	// A child that closed its terminal and keeps running still gets killed
	// on cancel.
loop:
	for !exited || lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			collected = append(collected, line)
			emit(line)
			if exited {
				resetIdle()
			}
		case waitErr = <-waitDone:
			exited = true
			waitDone = nil
			if lines != nil {
				resetIdle()
			}
		case <-cancel:
			cancel = nil
			if exited {
				break loop
			}
			_ = process.KillGroup(cmd)
		case <-idleC:
			break loop
		}
	}

	// Closing the controlling side unblocks a reader still waiting on a
	// descendant that kept the terminal open. Lines it already buffered are
	// still delivered.
	_ = tty.Close()
	if lines != nil {
		collected = flushLines(lines, collected, emit)
	}
	var readErr error
	select {
	case readErr = <-readDone:
	default:
	}

	status, code, err := process.ExitStatus(ctx, cmd.ProcessState, waitErr)
	out := tools.Outcome{
		Stdout:   joinLines(collected),
		Lines:    collected,
		ExitCode: code,
		Status:   status,
		Err:      err,
		Duration: time.Since(start),
	}
	if readErr != nil && status != tools.StatusCanceled {
		out.Status = tools.StatusSpawnError
		out.Err = fmt.Errorf("read terminal: %w", readErr)
	}
	return out
}

// flushLines takes what the reader still holds after the terminal closed. A
// reader stuck in a read that Close did not interrupt is abandoned after
// flushWait of silence.
func flushLines(lines <-chan string, collected []string, emit func(string)) []string {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return collected
			}
			collected = append(collected, line)
			emit(line)
		case <-time.After(flushWait):
			return collected
		}
	}
}

func (s *Streamer) drainTimeout() time.Duration {
	if s.DrainTimeout > 0 {
		return s.DrainTimeout
	}
	return defaultDrainTimeout
}

// readLines forwards lines from r until the terminal closes. EIO is how
// Linux reports that every subordinate descriptor is gone, so it ends the
// stream normally.
func readLines(r io.Reader, out chan<- string, quit <-chan struct{}) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			select {
			case out <- strings.TrimRight(line, "\r\n"):
			case <-quit:
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
