// Package debounce coalesces bursts of writes into a single trailing write.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultQuietInterval is how long Schedule waits for silence before writing.
const DefaultQuietInterval = 200 * time.Millisecond

// Debouncer runs only the most recently scheduled write, once the quiet
// interval has elapsed since the last call to Schedule.
type Debouncer struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	quiet   time.Duration
	timer   clockwork.Timer
	pending func()
	gen     uint64
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock sets the clock used for the quiet interval.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Debouncer) {
		d.clock = clock
	}
}

// New creates a Debouncer. A non-positive quiet interval selects
// DefaultQuietInterval.
func New(quiet time.Duration, opts ...Option) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietInterval
	}
	d := &Debouncer{
		clock: clockwork.NewRealClock(),
		quiet: quiet,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// QuietInterval returns the configured quiet interval.
func (d *Debouncer) QuietInterval() time.Duration {
	return d.quiet
}

// Schedule replaces any pending write with write and restarts the quiet
// interval.
func (d *Debouncer) Schedule(write func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	d.gen++
	gen := d.gen
	d.pending = write
	d.timer = d.clock.AfterFunc(d.quiet, func() { d.fire(gen) })
}

// Flush runs the pending write immediately, if any.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	write := d.pending
	d.cancelLocked()
	d.mu.Unlock()

	if write != nil {
		write()
	}
}

// Stop discards the pending write.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

// Pending reports whether a write is waiting for the quiet interval.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A timer that expired while Schedule or Stop held the lock is stale.
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	write := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	write()
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.gen++
}
