package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest means the request is incomplete (no tool, no file).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownTool means the tool id is not in the registry.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMissingParameter means the descriptor needs a slot the request lacks.
	ErrMissingParameter = errors.New("missing parameter")
)

// MissingParameterError names the slot that was absent.
type MissingParameterError struct {
	Tool ToolID
	Slot SlotKind
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter %s for %s", e.Slot, e.Tool)
}

func (e *MissingParameterError) Is(target error) bool { return target == ErrMissingParameter }
