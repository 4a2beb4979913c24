package playground

// Event is a discrete user action. Every front end translates its input into
// events and hands them to Dispatch.
type Event interface {
	// Name labels the event in logs, metrics and traces.
	Name() string
}

// RunRequested runs the current program against a fresh interpreter.
type RunRequested struct{}

// LineSubmitted evaluates one REPL line.
type LineSubmitted struct {
	Line string
}

// ProgramEdited replaces the program text.
type ProgramEdited struct {
	Text string
}

// EnvironmentEdited replaces the environment text.
type EnvironmentEdited struct {
	Text string
}

// ClearRequested empties the document, transcript, result and error.
type ClearRequested struct{}

func (RunRequested) Name() string      { return "run" }
func (LineSubmitted) Name() string     { return "line" }
func (ProgramEdited) Name() string     { return "program" }
func (EnvironmentEdited) Name() string { return "environment" }
func (ClearRequested) Name() string    { return "clear" }
