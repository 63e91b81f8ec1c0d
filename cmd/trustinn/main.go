// Command trustinn runs one TrustInn verification tool from the terminal and
// relays its output as it is produced.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	appruns "github.com/bryanwahyu/trustinn/internal/application/runs"
	"github.com/bryanwahyu/trustinn/internal/config"
	"github.com/bryanwahyu/trustinn/internal/domain/tools"
	"github.com/bryanwahyu/trustinn/internal/infra/executor/process"
	"github.com/bryanwahyu/trustinn/internal/infra/executor/streaming"
)

// Exit codes.
const (
	exitOK         = 0
	exitToolError  = 1
	exitRejected   = 2
	exitSpawnError = 3
	exitCanceled   = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trustinn", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		tool     = fs.String("tool", "", "tool id, e.g. CBMC, Static-Analysis, AFL")
		file     = fs.String("file", "", "source file to analyze")
		bound    = fs.String("bound", "", "unwind bound for the model checkers")
		input    = fs.String("input", "", "seed input directory for AFL")
		cfgPath  = fs.String("config", config.Path(), "config file; a missing file means defaults")
		root     = fs.String("root", "", "install root (default tools.root from the config, $TRUSTINN_HOME overrides it)")
		list     = fs.Bool("list", false, "list the available tools and exit")
		logLevel = fs.String("log-level", "warn", "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return exitRejected
	}

	cfg, err := config.LoadOptional(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: config %s: %v\n", *cfgPath, err)
		return exitRejected
	}
	cfg.Log.Level = *logLevel
	log := cfg.NewLogger(stderr)

	if *root != "" {
		cfg.Tools.Root = config.ExpandHome(*root)
	}
	reg := tools.NewRegistry(cfg.Tools.Root)

	if *list {
		for _, d := range reg.List() {
			stream := ""
			if d.Streaming {
				stream = " (live)"
			}
			fmt.Fprintf(stdout, "%-16s %-7s%s\n", d.ID, d.Language, stream)
		}
		return exitOK
	}

	id, err := tools.ParseToolID(*tool)
	if err != nil && *tool != "" {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRejected
	}

	streamer := streaming.NewStreamer()
	streamer.Size = terminalSize()
	o := appruns.NewOrchestrator(reg, process.NewRunner(), streamer, log)

	res := o.Execute(ctx, tools.Request{Tool: id, TargetFile: *file, Bound: *bound, InputDir: *input},
		appruns.SinkFunc(func(e appruns.Event) {
			switch e.Kind {
			case appruns.EventStdout:
				fmt.Fprintln(stdout, e.Text)
			default:
				fmt.Fprintln(stderr, e.Text)
			}
		}))
	return exitCode(res.Status)
}

func exitCode(s tools.Status) int {
	switch s {
	case tools.StatusSuccess:
		return exitOK
	case tools.StatusToolError:
		return exitToolError
	case tools.StatusRejected:
		return exitRejected
	case tools.StatusCanceled:
		return exitCanceled
	default:
		return exitSpawnError
	}
}

// terminalSize gives AFL's status screen the real terminal dimensions when
// stdout is a terminal.
func terminalSize() *pty.Winsize {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return nil
	}
	return &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
}
