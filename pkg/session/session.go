package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/aixgo-dev/playground/pkg/interp"
	"github.com/aixgo-dev/playground/pkg/present"
)

// Presenter renders an error for display and reports false when nothing
// should be shown.
type Presenter func(err error) (string, bool)

// Option configures an Engine.
type Option func(*Engine)

// WithPresenter replaces present.Present.
func WithPresenter(p Presenter) Option {
	return func(e *Engine) { e.present = p }
}

// WithDir sets the directory programs resolve modules against.
func WithDir(dir string) Option {
	return func(e *Engine) { e.dir = dir }
}

// WithClock sets the clock used to timestamp interactions.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine is the REPL session engine. It is safe for concurrent use; calls are
// serialized.
type Engine struct {
	factory interp.Factory
	present Presenter
	dir     string
	clock   clockwork.Clock

	mu         sync.Mutex
	instance   interp.Instance
	status     Status
	epoch      int
	result     *RunResult
	transcript []Interaction
	errMsg     *ErrorMessage
	closed     bool
}

// New creates an empty engine. No instance exists until the first load or
// REPL line.
func New(factory interp.Factory, opts ...Option) *Engine {
	e := &Engine{
		factory: factory,
		present: present.Present,
		clock:   clockwork.NewRealClock(),
		status:  StatusEmpty,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadProgram parses environmentText, replaces the interpreter instance with a
// fresh one and runs program on it.
//
// The transcript and the last result are cleared whatever the outcome. When
// the environment does not parse the live instance and the epoch are kept and
// a *LoadError of KindEnvironmentParse is returned. Otherwise the epoch
// advances before the program runs, so a program that fails still leaves the
// new instance in place for the REPL.
func (e *Engine) LoadProgram(ctx context.Context, program, environmentText string) (*RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	e.transcript = nil
	e.result = nil

	env := &interp.Environment{}
	if !interp.IsBlank(environmentText) {
		parsed, err := interp.ParseEnvironment(environmentText)
		if err != nil {
			return nil, e.fail(&LoadError{Kind: KindEnvironmentParse, Err: err})
		}
		env = parsed
	}

	if e.instance != nil {
		e.instance.Close()
	}
	e.instance = e.factory.NewInstance(env)
	e.epoch++
	e.status = StatusLoaded

	res, err := e.instance.LoadAndRun(ctx, e.dir, program)
	if err != nil {
		kind := KindLoadRuntime
		var diag *interp.Diagnostic
		if errors.As(err, &diag) {
			kind = KindLoadDiagnostic
		}
		return nil, e.fail(&LoadError{Kind: kind, Err: err})
	}

	e.result = &RunResult{
		Value:  res.Value.Text,
		Type:   res.Value.Type,
		Output: res.Output,
		Epoch:  e.epoch,
	}
	e.errMsg = nil
	out := *e.result
	return &out, nil
}

// EvalLine evaluates line against the live instance. A successful line is
// appended to the transcript and clears any shown error. A failing line
// leaves the transcript untouched and returns an *EvalError.
func (e *Engine) EvalLine(ctx context.Context, line string) (*Interaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if e.instance == nil {
		e.instance = e.factory.NewInstance(&interp.Environment{})
	}

	res, err := e.instance.EvalLine(ctx, line)
	if err != nil {
		return nil, e.fail(&EvalError{Line: line, Err: err})
	}

	in := Interaction{
		ID:     uuid.New().String(),
		Line:   line,
		Value:  res.Value.Text,
		Type:   res.Value.Type,
		Output: res.Output,
		Time:   e.clock.Now().UTC(),
	}
	e.transcript = append(e.transcript, in)
	e.errMsg = nil
	return &in, nil
}

// Clear drops the transcript, the last result and any error and returns the
// engine to StatusEmpty. The live instance is kept.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status = StatusEmpty
	e.result = nil
	e.transcript = nil
	e.errMsg = nil
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := State{
		Status:     e.status,
		Epoch:      e.epoch,
		Transcript: append([]Interaction{}, e.transcript...),
	}
	if e.result != nil {
		r := *e.result
		s.Result = &r
	}
	if e.errMsg != nil {
		m := *e.errMsg
		s.Error = &m
	}
	return s
}

// Close closes the live instance. Further loads and evaluations return
// ErrClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	if e.instance != nil {
		e.instance.Close()
		e.instance = nil
	}
}

// fail records err as the shown error, replacing any previous one, and
// returns it.
func (e *Engine) fail(err error) error {
	var kind Kind
	var cause error
	var loadErr *LoadError
	var evalErr *EvalError
	switch {
	case errors.As(err, &loadErr):
		kind, cause = loadErr.Kind, loadErr.Err
	case errors.As(err, &evalErr):
		kind, cause = KindEval, evalErr.Err
	}

	markup, _ := e.present(cause)
	e.errMsg = &ErrorMessage{
		Kind:     kind,
		Category: category(kind),
		Markup:   markup,
		Err:      err,
	}
	return err
}
