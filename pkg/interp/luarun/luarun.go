// Package luarun runs playground programs on an embedded Lua VM.
package luarun

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/aixgo-dev/playground/pkg/interp"
)

const (
	// MainChunk names the program chunk in diagnostics.
	MainChunk = "main.lua"
	// ReplChunk names REPL lines in diagnostics.
	ReplChunk = "repl"

	// DefaultTimeout bounds a single evaluation when neither the factory nor
	// the environment sets a limit.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxOutput caps the printed output kept per evaluation.
	DefaultMaxOutput = 1 << 20
)

// ErrClosed is returned when evaluating on a closed instance.
var ErrClosed = errors.New("lua: instance is closed")

// DefaultLibs are opened when an environment does not list any.
var DefaultLibs = []string{"base", "package", "table", "string", "math", "coroutine"}

var openers = map[string]lua.LGFunction{
	"base":      lua.OpenBase,
	"package":   lua.OpenPackage,
	"table":     lua.OpenTable,
	"string":    lua.OpenString,
	"math":      lua.OpenMath,
	"coroutine": lua.OpenCoroutine,
	"channel":   lua.OpenChannel,
	"os":        lua.OpenOs,
	"io":        lua.OpenIo,
	"debug":     lua.OpenDebug,
}

// unsafeLibs reach the host filesystem or bypass the sandbox.
var unsafeLibs = map[string]bool{"os": true, "io": true, "debug": true}

// Options configures a Factory.
type Options struct {
	// AllowUnsafeLibs lets environments open os, io and debug.
	AllowUnsafeLibs bool
	// Timeout is the default per-evaluation limit.
	Timeout time.Duration
	// MaxTimeout caps the limit an environment may request. Zero means no cap.
	MaxTimeout time.Duration
	// MaxOutput caps printed output per evaluation.
	MaxOutput int
	// Dir is used for module resolution when LoadAndRun gets no directory.
	Dir string
}

// Factory creates Lua instances.
type Factory struct {
	opts Options
}

// NewFactory creates a Factory, filling unset options with defaults.
func NewFactory(opts Options) *Factory {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	return &Factory{opts: opts}
}

// NewInstance implements interp.Factory.
func (f *Factory) NewInstance(env *interp.Environment) interp.Instance {
	if env == nil {
		env = &interp.Environment{}
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: min(env.CallStackSize, interp.MaxCallStackSize),
		RegistrySize:  min(env.RegistrySize, interp.MaxRegistrySize),
	})

	inst := &Instance{
		L:       L,
		out:     &limitedBuffer{max: f.opts.MaxOutput},
		timeout: f.timeout(env),
		path:    env.Path,
		dir:     f.opts.Dir,
	}
	inst.openLibs(f.libs(env))
	L.SetGlobal("print", L.NewFunction(inst.print))
	if !f.opts.AllowUnsafeLibs {
		L.SetGlobal("dofile", lua.LNil)
		L.SetGlobal("loadfile", lua.LNil)
	}
	for name, value := range env.Globals {
		L.SetGlobal(name, toLValue(L, value))
	}
	return inst
}

func (f *Factory) timeout(env *interp.Environment) time.Duration {
	timeout := f.opts.Timeout
	if env.Timeout > 0 {
		timeout = env.Timeout
	}
	if f.opts.MaxTimeout > 0 && timeout > f.opts.MaxTimeout {
		timeout = f.opts.MaxTimeout
	}
	return timeout
}

// libs resolves the libraries to open. package is opened before base and
// base is always present.
func (f *Factory) libs(env *interp.Environment) []string {
	requested := env.Libs
	if len(requested) == 0 {
		requested = DefaultLibs
	}

	seen := map[string]bool{}
	var libs []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			libs = append(libs, name)
		}
	}

	for _, name := range requested {
		if name == "package" {
			add(name)
		}
	}
	add("base")
	for _, name := range requested {
		if _, ok := openers[name]; !ok {
			log.Printf("[Lua] WARNING: unknown library %q ignored", name)
			continue
		}
		if unsafeLibs[name] && !f.opts.AllowUnsafeLibs {
			log.Printf("[Lua] WARNING: library %q is disabled", name)
			continue
		}
		add(name)
	}
	return libs
}

// Instance is a single Lua state.
type Instance struct {
	L       *lua.LState
	out     *limitedBuffer
	timeout time.Duration
	path    string
	dir     string
}

func (in *Instance) openLibs(libs []string) {
	for _, name := range libs {
		libName := name
		if name == "base" {
			libName = lua.BaseLibName
		}
		in.L.Push(in.L.NewFunction(openers[name]))
		in.L.Push(lua.LString(libName))
		in.L.Call(1, 0)
	}
}

// LoadAndRun implements interp.Instance.
func (in *Instance) LoadAndRun(ctx context.Context, dir, program string) (interp.Result, error) {
	if in.L.IsClosed() {
		return interp.Result{}, ErrClosed
	}
	in.setModulePath(dir)

	fn, err := in.L.Load(strings.NewReader(program), MainChunk)
	if err != nil {
		return interp.Result{}, toDiagnostic(err, MainChunk, program)
	}
	return in.call(ctx, fn)
}

// EvalLine implements interp.Instance. The line is tried as an expression
// first so that "1 + 1" yields a value, then as a statement.
func (in *Instance) EvalLine(ctx context.Context, line string) (interp.Result, error) {
	if in.L.IsClosed() {
		return interp.Result{}, ErrClosed
	}

	fn, err := in.L.Load(strings.NewReader("return "+line), ReplChunk)
	if err != nil {
		fn, err = in.L.Load(strings.NewReader(line), ReplChunk)
		if err != nil {
			return interp.Result{}, toDiagnostic(err, ReplChunk, line)
		}
	}
	return in.call(ctx, fn)
}

// Close implements interp.Instance.
func (in *Instance) Close() {
	if !in.L.IsClosed() {
		in.L.Close()
	}
}

func (in *Instance) call(ctx context.Context, fn *lua.LFunction) (interp.Result, error) {
	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}
	in.L.SetContext(ctx)
	defer in.L.RemoveContext()

	in.out.Reset()
	base := in.L.GetTop()
	in.L.Push(fn)
	if err := in.L.PCall(0, lua.MultRet, nil); err != nil {
		in.L.SetTop(base)
		return interp.Result{Output: in.out.String()}, in.runtimeError(ctx, err)
	}

	values := make([]lua.LValue, in.L.GetTop()-base)
	for i := range values {
		values[i] = in.L.Get(base + 1 + i)
	}
	in.L.SetTop(base)

	return interp.Result{Value: Describe(values...), Output: in.out.String()}, nil
}

func (in *Instance) runtimeError(ctx context.Context, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return &interp.RuntimeError{
			Message: fmt.Sprintf("evaluation timed out after %s", in.timeout),
			Err:     fmt.Errorf("%w: %w", interp.ErrTimeout, ctxErr),
		}
	case ctxErr != nil:
		return &interp.RuntimeError{Message: "evaluation canceled", Err: ctxErr}
	}

	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return &interp.RuntimeError{
			Message:    apiErr.Object.String(),
			StackTrace: apiErr.StackTrace,
			Err:        err,
		}
	}
	return &interp.RuntimeError{Message: err.Error(), Err: err}
}

func (in *Instance) setModulePath(dir string) {
	pkg, ok := in.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}

	root := in.path
	if root == "" || !filepath.IsAbs(root) {
		base := dir
		if base == "" {
			base = in.dir
		}
		if base == "" && root == "" {
			return
		}
		root = filepath.Join(base, root)
	}
	path := filepath.Join(root, "?.lua") + ";" + filepath.Join(root, "?", "init.lua")
	in.L.SetField(pkg, "path", lua.LString(path))
}

// print mirrors the base library print but writes to the captured output.
func (in *Instance) print(L *lua.LState) int {
	top := L.GetTop()
	for i := 1; i <= top; i++ {
		if i > 1 {
			in.out.WriteString("\t")
		}
		in.out.WriteString(L.ToStringMeta(L.Get(i)).String())
	}
	in.out.WriteString("\n")
	return 0
}

func toDiagnostic(err error, source, text string) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) || apiErr.Type != lua.ApiErrorSyntax {
		return err
	}

	d := &interp.Diagnostic{Source: source, Text: text, Message: apiErr.Object.String()}

	var parseErr *parse.Error
	var compileErr *lua.CompileError
	switch {
	case errors.As(apiErr.Cause, &parseErr):
		d.Message = parseErr.Message
		if parseErr.Pos.Line == parse.EOF {
			lines := strings.Split(text, "\n")
			d.Line = len(lines)
			d.Column = len(lines[len(lines)-1]) + 1
			d.Message += " at end of input"
		} else {
			d.Line = parseErr.Pos.Line
			d.Column = parseErr.Pos.Column
			d.Near = parseErr.Token
		}
	case errors.As(apiErr.Cause, &compileErr):
		d.Message = compileErr.Message
		d.Line = compileErr.Line
	}
	return d
}

type limitedBuffer struct {
	buf       strings.Builder
	max       int
	truncated bool
}

func (b *limitedBuffer) WriteString(s string) {
	if b.truncated {
		return
	}
	if room := b.max - b.buf.Len(); len(s) > room {
		b.buf.WriteString(s[:room])
		b.buf.WriteString("\n[output truncated]\n")
		b.truncated = true
		return
	}
	b.buf.WriteString(s)
}

func (b *limitedBuffer) Reset() {
	b.buf.Reset()
	b.truncated = false
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
