package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bryanwahyu/trustinn/internal/domain/tools"
)

// EventKind tags what a sink event carries.
type EventKind string

const (
	EventStdout EventKind = "stdout"
	EventStderr EventKind = "stderr"
	EventNotice EventKind = "notice"
	EventError  EventKind = "error"
)

// Event is one line delivered to the caller while a run is in progress.
type Event struct {
	Kind  EventKind `json:"kind"`
	Stage string    `json:"stage,omitempty"`
	Text  string    `json:"text"`
}

// Sink receives events in order on the goroutine that called Execute.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// StageResult is the outcome of one child process.
type StageResult struct {
	Stage    string        `json:"stage"`
	Argv     []string      `json:"argv"`
	Status   tools.Status  `json:"status"`
	ExitCode int           `json:"exit_code"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Result is the terminal report of one Execute call.
type Result struct {
	Tool     tools.ToolID  `json:"tool"`
	Status   tools.Status  `json:"status"`
	Stdout   string        `json:"stdout"`
	Lines    []string      `json:"lines"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Stages   []StageResult `json:"stages,omitempty"`
	Message  string        `json:"message,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration_ns"`
}

// OK reports whether every stage succeeded.
func (r *Result) OK() bool { return r.Status == tools.StatusSuccess }

// Orchestrator turns requests into supervised child processes. It runs one
// request per call and keeps no state between calls.
type Orchestrator struct {
	Catalog  tools.Catalog
	Runner   tools.Runner
	Streamer tools.Streamer
	Log      *slog.Logger
}

func NewOrchestrator(catalog tools.Catalog, runner tools.Runner, streamer tools.Streamer, log *slog.Logger) *Orchestrator {
	return &Orchestrator{Catalog: catalog, Runner: runner, Streamer: streamer, Log: log}
}

// Lookup exposes the registry to callers that build tool pickers.
func (o *Orchestrator) Lookup(id tools.ToolID) (tools.Descriptor, error) {
	return o.Catalog.Lookup(id)
}

// Execute validates req, runs every stage and reports a Result. It never
// returns nil and never panics on tool or spawn failures.
func (o *Orchestrator) Execute(ctx context.Context, req tools.Request, sink Sink) *Result {
	start := time.Now()
	if sink == nil {
		sink = Discard
	}
	res := &Result{Tool: req.Tool, Status: tools.StatusSuccess}
	defer func() { res.Duration = time.Since(start) }()

	if err := req.Validate(); err != nil {
		return o.reject(res, sink, err)
	}
	desc, err := o.Catalog.Lookup(req.Tool)
	if err != nil {
		return o.reject(res, sink, err)
	}
	invs, err := tools.Build(o.Catalog.Root(), desc, req)
	if err != nil {
		return o.reject(res, sink, err)
	}

	sink.Emit(Event{Kind: EventNotice, Text: fmt.Sprintf("Executing %s on %s...", req.Tool, req.TargetFile)})

	for _, inv := range invs {
		if err := ctx.Err(); err != nil {
			res.Status = tools.StatusCanceled
			res.Err = err
			res.Message = err.Error()
			break
		}
		if desc.MultiStage() {
			sink.Emit(Event{Kind: EventNotice, Stage: inv.Stage, Text: fmt.Sprintf("Running %s...", inv.Stage)})
		}

		out := o.dispatch(ctx, inv, sink)
		status := out.Status
		if status == tools.StatusSuccess && desc.Stderr == tools.StderrFailure && strings.TrimSpace(out.Stderr) != "" {
			status = tools.StatusToolError
		}
		if out.Stderr != "" && desc.Stderr != tools.StderrHidden {
			sink.Emit(Event{Kind: EventNotice, Stage: inv.Stage, Text: "Errors/Warning:"})
			for _, line := range splitLines(out.Stderr) {
				sink.Emit(Event{Kind: EventStderr, Stage: inv.Stage, Text: line})
			}
		}

		stage := StageResult{
			Stage:    inv.Stage,
			Argv:     inv.Argv,
			Status:   status,
			ExitCode: out.ExitCode,
			Duration: out.Duration,
		}
		if msg := stageMessage(req.Tool, inv, status, out); msg != "" {
			stage.Message = msg
			if res.Message == "" {
				res.Message = msg
				res.Err = out.Err
			}
			if status == tools.StatusSpawnError {
				sink.Emit(Event{Kind: EventError, Stage: inv.Stage, Text: msg})
			}
		}

		res.Stages = append(res.Stages, stage)
		res.Stdout += out.Stdout
		res.Lines = append(res.Lines, out.Lines...)
		res.Stderr += out.Stderr
		res.ExitCode = out.ExitCode
		res.Status = worse(res.Status, status)

		o.logger().Info("stage finished",
			"tool", req.Tool,
			"stage", inv.Stage,
			"argv0", inv.Argv[0],
			"status", status,
			"exit_code", out.ExitCode,
			"duration_ms", out.Duration.Milliseconds(),
		)

		// A spawn failure means the install is broken; a tool error from
		// one analyzer must not hide the next analyzer's findings.
		if status == tools.StatusSpawnError || status == tools.StatusCanceled {
			break
		}
	}
	return res
}

func (o *Orchestrator) dispatch(ctx context.Context, inv tools.Invocation, sink Sink) tools.Outcome {
	if inv.Streaming {
		if o.Streamer == nil {
			return tools.Outcome{Status: tools.StatusSpawnError, ExitCode: -1, Err: errors.New("streaming executor not configured")}
		}
		return o.Streamer.Stream(ctx, inv, func(line string) {
			sink.Emit(Event{Kind: EventStdout, Stage: inv.Stage, Text: line})
		})
	}
	out := o.Runner.Run(ctx, inv)
	out.Lines = splitLines(out.Stdout)
	for _, line := range out.Lines {
		sink.Emit(Event{Kind: EventStdout, Stage: inv.Stage, Text: line})
	}
	return out
}

func (o *Orchestrator) reject(res *Result, sink Sink, err error) *Result {
	res.Status = tools.StatusRejected
	res.Err = err
	res.Message = err.Error()
	res.ExitCode = -1
	sink.Emit(Event{Kind: EventError, Text: "Error: " + err.Error()})
	o.logger().Warn("request rejected", "tool", res.Tool, "error", err)
	return res
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

func stageMessage(tool tools.ToolID, inv tools.Invocation, status tools.Status, out tools.Outcome) string {
	switch status {
	case tools.StatusSuccess:
		return ""
	case tools.StatusSpawnError:
		return fmt.Sprintf("Error executing %s: %v", tool, out.Err)
	case tools.StatusCanceled:
		return fmt.Sprintf("%s canceled", tool)
	}
	if out.Err == nil {
		return fmt.Sprintf("%s (%s) reported errors on stderr", tool, inv.Stage)
	}
	return fmt.Sprintf("%s (%s) failed: %v", tool, inv.Stage, out.Err)
}

var severity = map[tools.Status]int{
	tools.StatusSuccess:    0,
	tools.StatusToolError:  1,
	tools.StatusSpawnError: 2,
	tools.StatusCanceled:   3,
}

func worse(a, b tools.Status) tools.Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// splitLines breaks captured output at newlines. A final newline does not
// produce an empty trailing line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
