package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/playground/pkg/codec"
	"github.com/aixgo-dev/playground/pkg/config"
	"github.com/aixgo-dev/playground/pkg/interp"
	"github.com/aixgo-dev/playground/pkg/interp/interptest"
	"github.com/aixgo-dev/playground/pkg/location"
	"github.com/aixgo-dev/playground/pkg/playground"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PLAYGROUND_CONFIG", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEncodeDecode(t *testing.T) {
	dir := t.TempDir()
	program := filepath.Join(dir, "main.lua")
	env := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(program, []byte("return x + 1\n"), 0o600))
	require.NoError(t, os.WriteFile(env, []byte("globals:\n  x: 41\n"), 0o600))

	out, err := runCmd(t, "", "encode", "--program", program, "--env", env)
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	doc, ok := codec.Decode(token)
	require.True(t, ok)
	assert.Equal(t, "return x + 1\n", doc.Program)

	out, err = runCmd(t, "", "decode", token)
	require.NoError(t, err)
	var decoded codec.Document
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, doc, decoded)
}

func TestEncodeFromStdinAsURL(t *testing.T) {
	t.Setenv("PLAYGROUND_BASE_URL", "https://play.example/")

	out, err := runCmd(t, "print(1)", "encode", "--program", "-", "--url")
	require.NoError(t, err)
	url := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(url, "https://play.example/#"))

	out, err = runCmd(t, "", "decode", url)
	require.NoError(t, err)
	assert.Contains(t, out, `"program": "print(1)"`)
}

func TestEncodeMissingFile(t *testing.T) {
	_, err := runCmd(t, "", "encode", "--program", filepath.Join(t.TempDir(), "nope.lua"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := runCmd(t, "", "decode", "%%%")
	assert.ErrorIs(t, err, playground.ErrInvalidToken)
}

func TestSchemaCmd(t *testing.T) {
	out, err := runCmd(t, "", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"globals"`)
	assert.Contains(t, out, `"libs"`)
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "playground "+Version+"\n", out)
}

func TestOpenPlaygroundFromToken(t *testing.T) {
	token, err := codec.Encode(codec.Document{Program: "return 6 * 7"})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	pg, loc, err := openPlayground(context.Background(), cfg, "https://play.example/#"+token)
	require.NoError(t, err)
	defer pg.Close()

	assert.IsType(t, &location.Memory{}, loc)
	s := pg.Snapshot()
	require.NotNil(t, s.Result)
	assert.Equal(t, "42", s.Result.Value)
}

func TestOpenPlaygroundFileLocation(t *testing.T) {
	token, err := codec.Encode(codec.Document{Program: "return 'file'"})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Location.Kind = config.LocationFile
	cfg.Location.Path = filepath.Join(t.TempDir(), "slot", "fragment")

	pg, loc, err := openPlayground(context.Background(), cfg, token)
	require.NoError(t, err)
	assert.IsType(t, &location.File{}, loc)
	assert.Equal(t, "return 'file'", pg.Document().Program)

	// Close flushes the pending write of the loaded document.
	pg.Close()
	stored, err := loc.Fragment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, stored)
}

type replFixture struct {
	r       *repl
	out     *bytes.Buffer
	factory *interptest.Factory
	files   map[string]string
}

func newREPLFixture(t *testing.T) *replFixture {
	t.Helper()
	factory := interptest.NewFactory()
	pg := playground.New(factory, location.NewMemory(""),
		playground.WithClock(clockwork.NewFakeClock()),
		playground.WithBaseURL("https://play.example/"),
	)
	t.Cleanup(pg.Close)

	f := &replFixture{out: &bytes.Buffer{}, factory: factory, files: map[string]string{}}
	f.r = newREPL(pg, f.out, false)
	f.r.readFile = func(name string) ([]byte, error) {
		content, ok := f.files[name]
		if !ok {
			return nil, os.ErrNotExist
		}
		return []byte(content), nil
	}
	return f
}

func (f *replFixture) handle(t *testing.T, input string) string {
	t.Helper()
	f.out.Reset()
	assert.False(t, f.r.handle(context.Background(), input))
	return f.out.String()
}

func TestREPLEvaluatesLines(t *testing.T) {
	f := newREPLFixture(t)
	f.factory.Lines["1 + 1"] = interp.Result{Value: interp.Value{Text: "2", Type: "number"}, Output: "side effect"}

	assert.Equal(t, "side effect\n2 (number)\n", f.handle(t, "1 + 1"))
	assert.Equal(t, "", f.handle(t, "   "))
	assert.Len(t, f.factory.Last().Lines(), 1)
}

func TestREPLProgramAndRun(t *testing.T) {
	f := newREPLFixture(t)
	f.files["main.lua"] = "return 1"
	f.factory.Programs["return 1"] = interp.Result{Value: interp.Value{Text: "1", Type: "number"}}

	assert.Contains(t, f.handle(t, ":program main.lua"), "loaded main.lua (8 bytes)")
	assert.Equal(t, "1 (number)\n", f.handle(t, ":run"))
	assert.Contains(t, f.handle(t, ":show"), "return 1")
	assert.True(t, strings.HasPrefix(f.handle(t, ":share"), "https://play.example/#"))

	assert.Equal(t, "cleared\n", f.handle(t, ":clear"))
	assert.NotContains(t, f.handle(t, ":show"), "return 1")
}

func TestREPLEnvCommand(t *testing.T) {
	f := newREPLFixture(t)
	f.files["env.yaml"] = "globals: {x: 1}\n"

	assert.Contains(t, f.handle(t, ":env env.yaml"), "loaded env.yaml")
	assert.Equal(t, "globals: {x: 1}\n", f.r.pg.Document().Environment)
	assert.Contains(t, f.handle(t, ":env missing.yaml"), "file does not exist")
	assert.Contains(t, f.handle(t, ":env"), "usage: :env FILE")
}

func TestREPLErrors(t *testing.T) {
	f := newREPLFixture(t)
	f.factory.Errors["boom"] = errors.New("oops")
	f.factory.Errors["broken"] = &interp.Diagnostic{Source: "main.lua", Text: "broken", Line: 1, Column: 1, Message: "unexpected symbol"}
	f.files["broken.lua"] = "broken"

	assert.Equal(t, "REPL error: oops\n", f.handle(t, "boom"))

	f.handle(t, ":program broken.lua")
	out := f.handle(t, ":run")
	assert.Contains(t, out, "error: unexpected symbol")
	assert.Contains(t, out, "main.lua:1:1")
}

func TestREPLCommands(t *testing.T) {
	f := newREPLFixture(t)

	assert.Contains(t, f.handle(t, ":help"), ":program FILE")
	assert.Contains(t, f.handle(t, ":bogus"), "unknown command :bogus")

	for _, quit := range []string{":quit", ":q", " :exit "} {
		assert.True(t, f.r.handle(context.Background(), quit))
	}
}

func TestREPLColor(t *testing.T) {
	f := newREPLFixture(t)
	f.r.color = true

	out := f.handle(t, "x")
	assert.Contains(t, out, ansiGreen+"x"+ansiReset)
}
