package tools

import (
	"fmt"
	"strings"
	"time"
)

// Request is one user action: run Tool on TargetFile with optional parameters.
type Request struct {
	Tool       ToolID
	TargetFile string
	Bound      string // unwind bound / level
	InputDir   string // seed corpus for fuzzers
}

// Validate checks the request shape before the registry is consulted.
func (r Request) Validate() error {
	if strings.TrimSpace(string(r.Tool)) == "" {
		return fmt.Errorf("%w: no tool selected", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.TargetFile) == "" {
		return fmt.Errorf("%w: no file selected", ErrInvalidRequest)
	}
	return nil
}

// Invocation is a concrete command line for one stage.
type Invocation struct {
	Stage     string
	Argv      []string
	Streaming bool
}

// Status is the terminal state of a run or a stage.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusToolError  Status = "tool_error"
	StatusSpawnError Status = "spawn_error"
	StatusRejected   Status = "rejected"
	StatusCanceled   Status = "canceled"
)

// Outcome is what an executor reports for one invocation.
type Outcome struct {
	Stdout   string
	Stderr   string
	Lines    []string // streamed lines, in emission order
	ExitCode int
	Status   Status
	Err      error
	Duration time.Duration
}
