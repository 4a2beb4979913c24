// Package interp defines the boundary between the playground and the embedded
// interpreter that runs programs and REPL lines.
package interp

import (
	"context"
	"errors"
	"fmt"
)

// ErrTimeout is wrapped by errors from evaluations that exceed their time limit.
var ErrTimeout = errors.New("evaluation timed out")

// Value is a pretty-printed evaluation result.
type Value struct {
	Text string `json:"value"`
	Type string `json:"type"`
}

// Result is the outcome of a successful evaluation. Output holds anything the
// program printed while it ran.
type Result struct {
	Value  Value
	Output string
}

// Factory creates interpreter instances.
type Factory interface {
	// NewInstance returns a fresh instance configured from env. A nil env
	// selects the interpreter defaults.
	NewInstance(env *Environment) Instance
}

// Instance is one live interpreter. Instances are not safe for concurrent use.
type Instance interface {
	// LoadAndRun loads program as the main chunk and runs it. dir is the
	// directory modules are resolved against. A program that fails to parse
	// returns a *Diagnostic; any other failure returns a plain error.
	LoadAndRun(ctx context.Context, dir, program string) (Result, error)

	// EvalLine evaluates a single REPL line against the instance state.
	EvalLine(ctx context.Context, line string) (Result, error)

	// Close releases the instance.
	Close()
}

// RuntimeError is a failure raised while a chunk was executing.
type RuntimeError struct {
	Message    string
	StackTrace string
	Err        error
}

func (e *RuntimeError) Error() string {
	if e.StackTrace != "" {
		return fmt.Sprintf("%s\n%s", e.Message, e.StackTrace)
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
