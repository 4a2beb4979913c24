package session

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when operating on a closed engine.
var ErrClosed = errors.New("session engine is closed")

// LoadError is returned by LoadProgram when the environment does not parse or
// the program fails to load or run.
type LoadError struct {
	Kind Kind
	Err  error
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case KindEnvironmentParse:
		return fmt.Sprintf("parse environment: %v", e.Err)
	case KindLoadDiagnostic:
		return fmt.Sprintf("load program: %v", e.Err)
	default:
		return fmt.Sprintf("run program: %v", e.Err)
	}
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// EvalError is returned by EvalLine when a line fails.
type EvalError struct {
	Line string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("eval %q: %v", e.Line, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
