package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	writes []string
	fired  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) write(state string) func() {
	return func() {
		r.mu.Lock()
		r.writes = append(r.writes, state)
		r.mu.Unlock()
		r.fired <- struct{}{}
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func (r *recorder) waitFired(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("write did not fire")
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(200*time.Millisecond, WithClock(clock))
	rec := newRecorder()

	// calls at t, t+50, t+120
	d.Schedule(rec.write("a"))
	clock.Advance(50 * time.Millisecond)
	d.Schedule(rec.write("b"))
	clock.Advance(70 * time.Millisecond)
	d.Schedule(rec.write("c"))

	// t+319: still quiet
	clock.Advance(199 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.True(t, d.Pending())

	// t+320
	clock.Advance(time.Millisecond)
	rec.waitFired(t)

	assert.Equal(t, []string{"c"}, rec.snapshot())
	assert.False(t, d.Pending())

	clock.Advance(time.Second)
	assert.Equal(t, []string{"c"}, rec.snapshot())
}

func TestDebouncerSeparateBursts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(200*time.Millisecond, WithClock(clock))
	rec := newRecorder()

	d.Schedule(rec.write("first"))
	clock.Advance(200 * time.Millisecond)
	rec.waitFired(t)

	d.Schedule(rec.write("second"))
	clock.Advance(200 * time.Millisecond)
	rec.waitFired(t)

	assert.Equal(t, []string{"first", "second"}, rec.snapshot())
}

func TestDebouncerFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(0, WithClock(clock))
	rec := newRecorder()

	assert.Equal(t, DefaultQuietInterval, d.QuietInterval())

	d.Flush()
	assert.Empty(t, rec.snapshot())

	d.Schedule(rec.write("x"))
	d.Flush()
	rec.waitFired(t)
	assert.Equal(t, []string{"x"}, rec.snapshot())
	assert.False(t, d.Pending())

	clock.Advance(time.Second)
	assert.Equal(t, []string{"x"}, rec.snapshot())
}

func TestDebouncerStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(100*time.Millisecond, WithClock(clock))
	rec := newRecorder()

	d.Schedule(rec.write("dropped"))
	d.Stop()
	clock.Advance(time.Second)

	assert.Empty(t, rec.snapshot())
	assert.False(t, d.Pending())
}

func TestDebouncerStaleFire(t *testing.T) {
	d := New(time.Hour)
	rec := newRecorder()

	d.Schedule(rec.write("old"))
	d.mu.Lock()
	stale := d.gen
	d.mu.Unlock()
	d.Schedule(rec.write("new"))

	// An expired timer from the first call must not run the newer write.
	d.fire(stale)
	assert.Empty(t, rec.snapshot())
	require.True(t, d.Pending())

	d.Flush()
	rec.waitFired(t)
	assert.Equal(t, []string{"new"}, rec.snapshot())
}

func TestDebouncerRealClock(t *testing.T) {
	d := New(10 * time.Millisecond)
	rec := newRecorder()

	for i := 0; i < 5; i++ {
		d.Schedule(rec.write("burst"))
	}

	rec.waitFired(t)
	assert.Equal(t, []string{"burst"}, rec.snapshot())
}
