// Package interptest provides a scripted interpreter for tests of code that
// drives an interp.Factory.
package interptest

import (
	"context"
	"errors"
	"sync"

	"github.com/aixgo-dev/playground/pkg/interp"
)

// ErrClosed is returned by a closed Instance.
var ErrClosed = errors.New("interptest: instance is closed")

// Factory creates scripted instances and records every instance it made.
// Responses are keyed by program text or REPL line and shared by all
// instances. Unscripted programs yield nil and unscripted lines echo back.
type Factory struct {
	mu        sync.Mutex
	instances []*Instance

	Programs map[string]interp.Result
	Lines    map[string]interp.Result
	Errors   map[string]error
}

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{
		Programs: map[string]interp.Result{},
		Lines:    map[string]interp.Result{},
		Errors:   map[string]error{},
	}
}

// NewInstance implements interp.Factory.
func (f *Factory) NewInstance(env *interp.Environment) interp.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst := &Instance{ID: len(f.instances) + 1, Env: env, factory: f}
	f.instances = append(f.instances, inst)
	return inst
}

// Instances returns every instance created so far, oldest first.
func (f *Factory) Instances() []*Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Instance(nil), f.instances...)
}

// Last returns the most recently created instance, or nil.
func (f *Factory) Last() *Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instances) == 0 {
		return nil
	}
	return f.instances[len(f.instances)-1]
}

func (f *Factory) respond(key string, scripted map[string]interp.Result, fallback interp.Result) (interp.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.Errors[key]; ok {
		return interp.Result{}, err
	}
	if res, ok := scripted[key]; ok {
		return res, nil
	}
	return fallback, nil
}

// Instance records the calls made against it.
type Instance struct {
	ID  int
	Env *interp.Environment

	mu       sync.Mutex
	factory  *Factory
	closed   bool
	programs []string
	dirs     []string
	lines    []string
}

// LoadAndRun implements interp.Instance.
func (in *Instance) LoadAndRun(ctx context.Context, dir, program string) (interp.Result, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return interp.Result{}, ErrClosed
	}
	in.programs = append(in.programs, program)
	in.dirs = append(in.dirs, dir)
	in.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return interp.Result{}, err
	}
	return in.factory.respond(program, in.factory.Programs, interp.Result{Value: interp.Value{Text: "nil", Type: "nil"}})
}

// EvalLine implements interp.Instance.
func (in *Instance) EvalLine(ctx context.Context, line string) (interp.Result, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return interp.Result{}, ErrClosed
	}
	in.lines = append(in.lines, line)
	in.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return interp.Result{}, err
	}
	return in.factory.respond(line, in.factory.Lines, interp.Result{Value: interp.Value{Text: line, Type: "echo"}})
}

// Close implements interp.Instance.
func (in *Instance) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
}

// Closed reports whether Close was called.
func (in *Instance) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Programs returns the programs passed to LoadAndRun.
func (in *Instance) Programs() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.programs...)
}

// Dirs returns the directories passed to LoadAndRun.
func (in *Instance) Dirs() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.dirs...)
}

// Lines returns the lines passed to EvalLine.
func (in *Instance) Lines() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.lines...)
}
