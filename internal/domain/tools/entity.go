package tools

import (
	"fmt"
	"strings"
)

// ToolID identifies one of the wrapped verification tools.
type ToolID string

const (
	ToolCBMC           ToolID = "CBMC"
	ToolKLEEMA         ToolID = "KLEEMA"
	ToolKLEETX         ToolID = "KLEE-TX"
	ToolMCDCTX         ToolID = "MCDC-TX"
	ToolSCMCCCBMC      ToolID = "SC-MCC-CBMC"
	ToolStaticAnalysis ToolID = "Static-Analysis"
	ToolESBMC          ToolID = "ESBMC"
	ToolDSE            ToolID = "DSE"
	ToolAFL            ToolID = "AFL"
)

// ParseToolID matches user input against the known tool ids, ignoring case
// and surrounding whitespace.
func ParseToolID(s string) (ToolID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: no tool selected", ErrInvalidRequest)
	}
	for _, id := range knownTools {
		if strings.EqualFold(string(id), s) {
			return id, nil
		}
	}
	return ToolID(s), fmt.Errorf("%w: %s", ErrUnknownTool, s)
}

// Language groups tools by the kind of source file they analyze.
type Language string

const (
	LanguageC      Language = "c"
	LanguagePython Language = "python"
)

// SlotKind is the source of one positional argument.
type SlotKind int

const (
	SlotFile SlotKind = iota
	SlotBound
	SlotInputDir
	SlotInstallPath
)

func (k SlotKind) String() string {
	switch k {
	case SlotFile:
		return "file"
	case SlotBound:
		return "bound"
	case SlotInputDir:
		return "input_dir"
	case SlotInstallPath:
		return "install_path"
	default:
		return "unknown"
	}
}

// Slot is one positional parameter of a stage. Optional slots with no value
// are left out of argv entirely.
type Slot struct {
	Kind     SlotKind
	Optional bool
	// Path is the install-root relative path for SlotInstallPath.
	Path string
}

// Stage is a single child-process invocation within a tool run.
type Stage struct {
	Name   string
	Script string // slash separated, relative to the install root
	Args   []Slot
}

// StderrPolicy decides how non-empty stderr from a successful exit is treated.
type StderrPolicy int

const (
	// StderrWarning keeps the run successful and echoes stderr to the caller.
	StderrWarning StderrPolicy = iota
	// StderrFailure turns any stderr output into a tool error.
	StderrFailure
	// StderrHidden keeps stderr in the result only.
	StderrHidden
)

func (p StderrPolicy) String() string {
	switch p {
	case StderrFailure:
		return "failure"
	case StderrHidden:
		return "hidden"
	default:
		return "warning"
	}
}

// Descriptor describes how one tool is invoked. Descriptors are shared
// read-only values; callers must not modify Stages.
type Descriptor struct {
	ID        ToolID
	Language  Language
	Stages    []Stage
	Streaming bool
	Stderr    StderrPolicy
}

// MultiStage reports whether the tool runs more than one child process.
func (d Descriptor) MultiStage() bool { return len(d.Stages) > 1 }

// Requires reports whether any stage needs a value for kind.
func (d Descriptor) Requires(kind SlotKind) bool {
	for _, st := range d.Stages {
		for _, sl := range st.Args {
			if sl.Kind == kind && !sl.Optional {
				return true
			}
		}
	}
	return false
}

// Accepts reports whether any stage takes a value for kind, required or not.
func (d Descriptor) Accepts(kind SlotKind) bool {
	for _, st := range d.Stages {
		for _, sl := range st.Args {
			if sl.Kind == kind {
				return true
			}
		}
	}
	return false
}
