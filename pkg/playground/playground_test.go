package playground

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/playground/pkg/codec"
	"github.com/aixgo-dev/playground/pkg/interp"
	"github.com/aixgo-dev/playground/pkg/interp/interptest"
	"github.com/aixgo-dev/playground/pkg/location"
	"github.com/aixgo-dev/playground/pkg/session"
)

type failingLocation struct{}

func (failingLocation) Fragment(context.Context) (string, error) {
	return "", errors.New("disk on fire")
}

func (failingLocation) SetFragment(context.Context, string) error {
	return errors.New("disk on fire")
}

type fixture struct {
	pg      *Playground
	factory *interptest.Factory
	loc     *location.Memory
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T, doc codec.Document) *fixture {
	t.Helper()
	token := ""
	if !doc.IsEmpty() {
		var err error
		token, err = codec.Encode(doc)
		require.NoError(t, err)
	}

	f := &fixture{
		factory: interptest.NewFactory(),
		loc:     location.NewMemory(token),
		clock:   clockwork.NewFakeClock(),
	}
	f.pg = New(f.factory, f.loc,
		WithClock(f.clock),
		WithDir("/work"),
		WithBaseURL("https://play.example/"),
	)
	t.Cleanup(f.pg.Close)
	return f
}

func (f *fixture) storedDocument(t *testing.T) codec.Document {
	t.Helper()
	fragment, err := f.loc.Fragment(context.Background())
	require.NoError(t, err)
	doc, ok := codec.Decode(fragment)
	require.True(t, ok, "stored fragment %q does not decode", fragment)
	return doc
}

func (f *fixture) waitForWrites(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.loc.Writes() == n }, time.Second, time.Millisecond)
}

func TestOpenDecodesLocationAndRuns(t *testing.T) {
	doc := codec.Document{Program: "return 1", Environment: "globals: {x: 1}"}
	f := newFixture(t, doc)
	f.factory.Programs["return 1"] = interp.Result{Value: interp.Value{Text: "1", Type: "number"}}

	snap, err := f.pg.Open(context.Background())
	require.NoError(t, err)

	assert.Equal(t, doc, snap.Document)
	assert.Equal(t, session.StatusLoaded, snap.Status)
	assert.Equal(t, 1, snap.Epoch)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "1", snap.Result.Value)

	inst := f.factory.Last()
	require.NotNil(t, inst)
	assert.Equal(t, []string{"return 1"}, inst.Programs())
	assert.Equal(t, []string{"/work"}, inst.Dirs())
	assert.Equal(t, 1, inst.Env.Globals["x"])
	assert.Zero(t, f.loc.Writes(), "opening does not write the location")
}

func TestOpenFallsBackToEmptyDocument(t *testing.T) {
	t.Run("undecodable", func(t *testing.T) {
		f := newFixture(t, codec.Document{})
		require.NoError(t, f.loc.SetFragment(context.Background(), "not*a*token"))

		snap, err := f.pg.Open(context.Background())
		require.NoError(t, err)
		assert.Equal(t, codec.Document{}, snap.Document)
		assert.Equal(t, []string{""}, f.factory.Last().Programs())
	})

	t.Run("unreadable", func(t *testing.T) {
		factory := interptest.NewFactory()
		pg := New(factory, failingLocation{})
		defer pg.Close()

		snap, err := pg.Open(context.Background())
		require.NoError(t, err)
		assert.Equal(t, codec.Document{}, snap.Document)
		assert.Equal(t, session.StatusLoaded, snap.Status)
	})
}

func TestOpenSurfacesStartupError(t *testing.T) {
	f := newFixture(t, codec.Document{Program: "boom"})
	f.factory.Errors["boom"] = &interp.RuntimeError{Message: "boom"}

	snap, err := f.pg.Open(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Error)
	assert.Equal(t, session.KindLoadRuntime, snap.Error.Kind)
	assert.Equal(t, "boom", snap.Error.Markup)
}

func TestEditsAreDebounced(t *testing.T) {
	f := newFixture(t, codec.Document{})
	ctx := context.Background()

	f.pg.Dispatch(ctx, ProgramEdited{Text: "a"})
	f.clock.Advance(50 * time.Millisecond)
	f.pg.Dispatch(ctx, ProgramEdited{Text: "b"})
	f.clock.Advance(70 * time.Millisecond)
	snap := f.pg.Dispatch(ctx, ProgramEdited{Text: "c"})
	assert.True(t, snap.PersistPending)

	f.clock.Advance(199 * time.Millisecond)
	assert.Never(t, func() bool { return f.loc.Writes() > 0 }, 30*time.Millisecond, time.Millisecond)

	f.clock.Advance(time.Millisecond)
	f.waitForWrites(t, 1)
	assert.Equal(t, codec.Document{Program: "c"}, f.storedDocument(t))
	assert.False(t, f.pg.Snapshot().PersistPending)

	assert.Never(t, func() bool { return f.loc.Writes() > 1 }, 30*time.Millisecond, time.Millisecond)
}

func TestPersistWritesLatestDocument(t *testing.T) {
	f := newFixture(t, codec.Document{})
	ctx := context.Background()

	f.pg.Dispatch(ctx, ProgramEdited{Text: "p"})
	f.pg.Dispatch(ctx, EnvironmentEdited{Text: "libs: [base]"})
	f.clock.Advance(200 * time.Millisecond)

	f.waitForWrites(t, 1)
	assert.Equal(t, codec.Document{Program: "p", Environment: "libs: [base]"}, f.storedDocument(t))
}

func TestEditsDoNotRun(t *testing.T) {
	f := newFixture(t, codec.Document{})
	ctx := context.Background()

	_, err := f.pg.Open(ctx)
	require.NoError(t, err)
	f.pg.Dispatch(ctx, ProgramEdited{Text: "x = 1"})
	snap := f.pg.Dispatch(ctx, EnvironmentEdited{Text: "bad: ["})

	assert.Len(t, f.factory.Instances(), 1)
	assert.Equal(t, []string{""}, f.factory.Last().Programs())
	assert.Nil(t, snap.Error)
	assert.Equal(t, codec.Document{Program: "x = 1", Environment: "bad: ["}, snap.Document)
}

func TestRunUsesCurrentDocument(t *testing.T) {
	f := newFixture(t, codec.Document{})
	ctx := context.Background()

	f.pg.Dispatch(ctx, ProgramEdited{Text: "return y"})
	f.pg.Dispatch(ctx, EnvironmentEdited{Text: "globals: {y: two}"})
	snap := f.pg.Dispatch(ctx, RunRequested{})

	assert.Equal(t, 1, snap.Epoch)
	inst := f.factory.Last()
	assert.Equal(t, []string{"return y"}, inst.Programs())
	assert.Equal(t, "two", inst.Env.Globals["y"])
}

func TestRunEnvironmentError(t *testing.T) {
	f := newFixture(t, codec.Document{Program: "a"})
	ctx := context.Background()

	_, err := f.pg.Open(ctx)
	require.NoError(t, err)
	f.pg.Dispatch(ctx, LineSubmitted{Line: "1"})

	f.pg.Dispatch(ctx, EnvironmentEdited{Text: "globals: ["})
	snap := f.pg.Dispatch(ctx, RunRequested{})

	require.NotNil(t, snap.Error)
	assert.Equal(t, session.KindEnvironmentParse, snap.Error.Kind)
	assert.Equal(t, 1, snap.Epoch)
	assert.Empty(t, snap.Transcript, "a run clears the transcript even when the environment fails")
	assert.Nil(t, snap.Result)
	assert.Len(t, f.factory.Instances(), 1)
}

func TestLinesAreNewestFirst(t *testing.T) {
	f := newFixture(t, codec.Document{})
	ctx := context.Background()
	f.factory.Errors["bad"] = errors.New("bad line")

	_, err := f.pg.Open(ctx)
	require.NoError(t, err)

	f.pg.Dispatch(ctx, LineSubmitted{Line: "a"})
	f.pg.Dispatch(ctx, LineSubmitted{Line: "b"})
	snap := f.pg.Dispatch(ctx, LineSubmitted{Line: "bad"})

	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, "b", snap.Transcript[0].Line)
	assert.Equal(t, "a", snap.Transcript[1].Line)
	require.NotNil(t, snap.Error)
	assert.Equal(t, session.KindEval, snap.Error.Kind)
	assert.Zero(t, f.loc.Writes(), "REPL lines are not persisted")
	assert.False(t, snap.PersistPending)
}

func TestClear(t *testing.T) {
	f := newFixture(t, codec.Document{Program: "p", Environment: "libs: [base]"})
	ctx := context.Background()
	f.factory.Errors["bad"] = errors.New("bad line")

	_, err := f.pg.Open(ctx)
	require.NoError(t, err)
	f.pg.Dispatch(ctx, LineSubmitted{Line: "a"})
	f.pg.Dispatch(ctx, LineSubmitted{Line: "bad"})

	snap := f.pg.Dispatch(ctx, ClearRequested{})
	assert.Equal(t, codec.Document{}, snap.Document)
	assert.Equal(t, session.StatusEmpty, snap.Status)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.Transcript)
	assert.Nil(t, snap.Error)
	assert.True(t, snap.PersistPending, "clearing schedules a persist")

	f.clock.Advance(200 * time.Millisecond)
	f.waitForWrites(t, 1)
	assert.Equal(t, codec.Document{}, f.storedDocument(t))
}

func TestLoad(t *testing.T) {
	f := newFixture(t, codec.Document{})
	ctx := context.Background()

	shared := codec.Document{Program: "return 'shared'"}
	token, err := codec.Encode(shared)
	require.NoError(t, err)

	for _, in := range []string{token, "#" + token, "https://play.example/#" + token} {
		snap, err := f.pg.Load(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, shared, snap.Document)
		assert.True(t, snap.PersistPending)
	}
	assert.Equal(t, []string{"return 'shared'"}, f.factory.Last().Programs())
	assert.Equal(t, 3, f.pg.Snapshot().Epoch)

	_, err = f.pg.Load(ctx, "%%%")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, shared, f.pg.Document(), "a bad token leaves the document alone")
}

func TestShare(t *testing.T) {
	doc := codec.Document{Program: "print('hi')", Environment: "libs: [base]"}
	f := newFixture(t, doc)

	_, err := f.pg.Open(context.Background())
	require.NoError(t, err)

	token, url, err := f.pg.Share()
	require.NoError(t, err)
	assert.Equal(t, "https://play.example/#"+token, url)

	decoded, ok := codec.Decode(token)
	require.True(t, ok)
	assert.Equal(t, doc, decoded)
	assert.Equal(t, token, f.pg.Snapshot().Token)
}

func TestCloseFlushesPendingEdit(t *testing.T) {
	f := newFixture(t, codec.Document{})
	ctx := context.Background()

	_, err := f.pg.Open(ctx)
	require.NoError(t, err)
	f.pg.Dispatch(ctx, ProgramEdited{Text: "unsaved"})

	f.pg.Close()
	assert.Equal(t, 1, f.loc.Writes())
	assert.Equal(t, codec.Document{Program: "unsaved"}, f.storedDocument(t))
	assert.True(t, f.factory.Last().Closed())

	snap := f.pg.Dispatch(ctx, ProgramEdited{Text: "after close"})
	assert.Equal(t, "unsaved", snap.Document.Program)

	_, err = f.pg.Open(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.pg.Load(ctx, mustEncode(t, codec.Document{Program: "x"}))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.pg.Alive(ctx), ErrClosed)

	f.clock.Advance(time.Second)
	assert.Never(t, func() bool { return f.loc.Writes() > 1 }, 30*time.Millisecond, time.Millisecond)
}

func TestPersistFailureIsLogged(t *testing.T) {
	pg := New(interptest.NewFactory(), failingLocation{})
	pg.Dispatch(context.Background(), ProgramEdited{Text: "x"})

	// Close flushes synchronously; the failed write must not panic or block.
	pg.Close()
	assert.ErrorIs(t, pg.Alive(context.Background()), ErrClosed)
}

func TestConcurrentDispatch(t *testing.T) {
	f := newFixture(t, codec.Document{})
	ctx := context.Background()

	_, err := f.pg.Open(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.pg.Dispatch(ctx, LineSubmitted{Line: fmt.Sprintf("line %d", i)})
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.pg.Snapshot().Transcript, 20)
}

func TestEventNames(t *testing.T) {
	events := []Event{RunRequested{}, LineSubmitted{}, ProgramEdited{}, EnvironmentEdited{}, ClearRequested{}}
	var names []string
	for _, ev := range events {
		names = append(names, ev.Name())
	}
	assert.Equal(t, []string{"run", "line", "program", "environment", "clear"}, names)
}

func mustEncode(t *testing.T, doc codec.Document) string {
	t.Helper()
	token, err := codec.Encode(doc)
	require.NoError(t, err)
	return token
}

func TestHealthReportsPersistState(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pg := New(interptest.NewFactory(), failingLocation{}, WithClock(clock))
	defer pg.Close()
	ctx := context.Background()

	h := pg.Health()
	assert.False(t, h.Closed)
	assert.Equal(t, string(session.StatusEmpty), h.Session)
	assert.Equal(t, "closed", h.Persist.Breaker)
	assert.False(t, h.Persist.Pending)

	pg.Dispatch(ctx, ProgramEdited{Text: "x"})
	assert.True(t, pg.Health().Persist.Pending)

	for i := 0; i < persistFailures; i++ {
		pg.Dispatch(ctx, ProgramEdited{Text: fmt.Sprintf("x%d", i)})
		pg.persister.Flush()
	}
	h = pg.Health()
	assert.Equal(t, "open", h.Persist.Breaker)
	assert.Equal(t, persistFailures, h.Persist.Failures)
	assert.Equal(t, "disk on fire", h.Persist.LastError)
	assert.False(t, h.Persist.Pending)
	assert.True(t, h.Persist.LastWrite.IsZero())

	clock.Advance(persistBackoff + time.Second)
	assert.Equal(t, "half-open", pg.Health().Persist.Breaker)
}

func TestHealthRecordsSuccessfulWrite(t *testing.T) {
	clock := clockwork.NewFakeClock()
	loc := location.NewMemory("")
	pg := New(interptest.NewFactory(), loc, WithClock(clock))
	ctx := context.Background()

	pg.Dispatch(ctx, ProgramEdited{Text: "return 1"})
	pg.persister.Flush()

	h := pg.Health()
	assert.Equal(t, "closed", h.Persist.Breaker)
	assert.Empty(t, h.Persist.LastError)
	assert.Equal(t, clock.Now(), h.Persist.LastWrite)

	pg.Close()
	assert.True(t, pg.Health().Closed)
}
