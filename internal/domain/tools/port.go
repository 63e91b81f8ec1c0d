package tools

import "context"

// Catalog resolves tool ids to descriptors and knows the install root.
type Catalog interface {
	Lookup(id ToolID) (Descriptor, error)
	Root() string
}

// Runner executes an invocation to completion and returns captured output.
type Runner interface {
	Run(ctx context.Context, inv Invocation) Outcome
}

// Streamer executes an invocation on a pseudo-terminal, calling emit for
// every line as soon as it is read.
type Streamer interface {
	Stream(ctx context.Context, inv Invocation, emit func(line string)) Outcome
}
