// Package session implements the REPL session engine. An engine owns one
// interpreter instance, runs whole programs against a fresh instance and
// evaluates single lines against the live one, keeping a transcript of the
// lines that succeeded.
package session

import (
	"time"
)

// Status is the lifecycle state of an engine.
type Status string

const (
	// StatusEmpty means no program has been loaded since creation or the last clear.
	StatusEmpty Status = "empty"
	// StatusLoaded means a load was attempted in the current epoch.
	StatusLoaded Status = "loaded"
)

// Kind classifies an error shown to the user.
type Kind string

const (
	// KindEnvironmentParse means the environment document did not parse.
	KindEnvironmentParse Kind = "environment_parse"
	// KindLoadDiagnostic means the program failed to compile.
	KindLoadDiagnostic Kind = "load_diagnostic"
	// KindLoadRuntime means the program compiled but failed while running.
	KindLoadRuntime Kind = "load_runtime"
	// KindEval means a REPL line failed.
	KindEval Kind = "eval"
)

// RunResult is the outcome of one full program load.
type RunResult struct {
	Value  string `json:"value"`
	Type   string `json:"type"`
	Output string `json:"output,omitempty"`
	// Epoch is the epoch the run belongs to.
	Epoch int `json:"epoch"`
}

// Interaction is one successful REPL evaluation. Interactions are immutable
// once appended.
type Interaction struct {
	// ID is the unique identifier for this interaction.
	ID string `json:"id"`
	// Line is the submitted input.
	Line   string `json:"line"`
	Value  string `json:"value"`
	Type   string `json:"type"`
	Output string `json:"output,omitempty"`
	// Time is when the evaluation completed.
	Time time.Time `json:"time"`
}

// ErrorMessage is the single error currently shown.
type ErrorMessage struct {
	Kind Kind `json:"kind"`
	// Category is a short human label for Kind.
	Category string `json:"category"`
	// Markup is the rendered error. It is empty when the error could not be
	// rendered, in which case nothing should be displayed.
	Markup string `json:"markup,omitempty"`
	// Err is the underlying error.
	Err error `json:"-"`
}

// Displayable reports whether the message has markup to show.
func (m *ErrorMessage) Displayable() bool {
	return m != nil && m.Markup != ""
}

// State is a snapshot of the engine.
type State struct {
	Status Status     `json:"status"`
	Epoch  int        `json:"epoch"`
	Result *RunResult `json:"result,omitempty"`
	// Transcript holds interactions oldest first.
	Transcript []Interaction `json:"transcript"`
	Error      *ErrorMessage `json:"error,omitempty"`
}

// Newest returns the transcript newest first, the order it is displayed in.
func (s State) Newest() []Interaction {
	out := make([]Interaction, len(s.Transcript))
	for i, in := range s.Transcript {
		out[len(out)-1-i] = in
	}
	return out
}

func category(k Kind) string {
	switch k {
	case KindEnvironmentParse:
		return "Environment error"
	case KindLoadDiagnostic:
		return "Syntax error"
	case KindLoadRuntime:
		return "Runtime error"
	case KindEval:
		return "REPL error"
	default:
		return "Error"
	}
}
