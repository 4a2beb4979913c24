// Package playground composes the codec, the debounced persister, the session
// engine and the shareable location into the interactive playground that the
// terminal, HTTP and MCP front ends drive.
package playground

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	obs "github.com/aixgo-dev/playground/internal/observability"
	"github.com/aixgo-dev/playground/pkg/codec"
	"github.com/aixgo-dev/playground/pkg/debounce"
	"github.com/aixgo-dev/playground/pkg/interp"
	"github.com/aixgo-dev/playground/pkg/location"
	"github.com/aixgo-dev/playground/pkg/observability"
	"github.com/aixgo-dev/playground/pkg/security"
	"github.com/aixgo-dev/playground/pkg/session"
)

const (
	// persistTimeout bounds a single write to the shareable location.
	persistTimeout = 5 * time.Second

	// After persistFailures consecutive failed writes, writes are skipped
	// for persistBackoff.
	persistFailures = 3
	persistBackoff  = 30 * time.Second
)

var (
	// ErrInvalidToken is returned by Load for tokens that do not decode.
	ErrInvalidToken = errors.New("share token does not decode")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("playground is closed")
)

// Snapshot is the observable state of the playground.
type Snapshot struct {
	Document codec.Document `json:"document"`
	// Token is the share token of Document.
	Token  string             `json:"token"`
	Status session.Status     `json:"status"`
	Epoch  int                `json:"epoch"`
	Result *session.RunResult `json:"result,omitempty"`
	// Transcript is newest first.
	Transcript []session.Interaction `json:"transcript"`
	// Error is set only when there is an error to display.
	Error *session.ErrorMessage `json:"error,omitempty"`
	// PersistPending reports an edit still inside the quiet interval.
	PersistPending bool `json:"persist_pending"`
}

// Option configures a Playground.
type Option func(*options)

type options struct {
	quiet   time.Duration
	clock   clockwork.Clock
	dir     string
	baseURL string
}

// WithQuietInterval sets the debounce window for persisting edits.
func WithQuietInterval(d time.Duration) Option {
	return func(o *options) { o.quiet = d }
}

// WithClock sets the clock for the persister and interaction timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithDir sets the directory programs resolve modules against.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithBaseURL sets the page share links point at.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// Playground serializes every event behind one mutex, which gives front ends
// running on separate goroutines a single logical thread of control.
type Playground struct {
	engine    *session.Engine
	persister *debounce.Debouncer
	breaker   *security.CircuitBreaker
	loc       location.Location
	baseURL   string
	clock     clockwork.Clock

	mu     sync.Mutex
	doc    codec.Document
	closed bool
	// Outcome of the latest location write.
	persistErr error
	lastWrite  time.Time
}

// New creates a playground backed by factory and persisting to loc. Call Open
// to load the stored document and perform the startup run.
func New(factory interp.Factory, loc location.Location, opts ...Option) *Playground {
	o := options{
		quiet:   debounce.DefaultQuietInterval,
		clock:   clockwork.NewRealClock(),
		baseURL: "http://localhost:8080/",
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Playground{
		engine: session.New(factory,
			session.WithDir(o.dir),
			session.WithClock(o.clock),
		),
		persister: debounce.New(o.quiet, debounce.WithClock(o.clock)),
		breaker:   security.NewCircuitBreakerWithClock(persistFailures, persistBackoff, o.clock),
		loc:       loc,
		baseURL:   o.baseURL,
		clock:     o.clock,
	}
}

// Open decodes the shareable location into the document and runs it. An
// empty, unreadable or undecodable location yields an empty document.
func (p *Playground) Open(ctx context.Context) (Snapshot, error) {
	doc := codec.Document{}
	fragment, err := p.loc.Fragment(ctx)
	switch {
	case err != nil:
		log.Printf("[Playground] WARNING: read shareable location: %v", err)
	case fragment != "":
		decoded, ok := codec.Decode(fragment)
		if ok {
			doc = decoded
		} else {
			observability.RecordDecodeFailure()
			log.Printf("[Playground] WARNING: stored share token does not decode, starting empty")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Snapshot{}, ErrClosed
	}

	p.doc = doc
	observability.RecordEvent("open")
	p.runLocked(ctx)
	return p.snapshotLocked(), nil
}

// Load replaces the document with the one encoded in token and runs it.
// token may be a bare token, "#token" or a share URL.
func (p *Playground) Load(ctx context.Context, token string) (Snapshot, error) {
	doc, ok := codec.Decode(location.ParseFragment(token))
	if !ok {
		observability.RecordDecodeFailure()
		return Snapshot{}, ErrInvalidToken
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Snapshot{}, ErrClosed
	}

	observability.RecordEvent("load")
	p.doc = doc
	p.schedulePersist()
	p.runLocked(ctx)
	return p.snapshotLocked(), nil
}

// Dispatch applies ev and returns the resulting state. Events after Close are
// ignored.
func (p *Playground) Dispatch(ctx context.Context, ev Event) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.snapshotLocked()
	}

	observability.RecordEvent(ev.Name())
	switch e := ev.(type) {
	case RunRequested:
		p.runLocked(ctx)
	case LineSubmitted:
		p.evalLocked(ctx, e.Line)
	case ProgramEdited:
		p.doc.Program = e.Text
		p.schedulePersist()
	case EnvironmentEdited:
		p.doc.Environment = e.Text
		p.schedulePersist()
	case ClearRequested:
		p.doc = codec.Document{}
		p.engine.Clear()
		p.schedulePersist()
	default:
		log.Printf("[Playground] WARNING: ignoring unknown event %T", ev)
	}
	return p.snapshotLocked()
}

// Snapshot returns the current state.
func (p *Playground) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Document returns the current document.
func (p *Playground) Document() codec.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

// Share returns the current token and a share URL carrying it.
func (p *Playground) Share() (token, url string, err error) {
	doc := p.Document()
	token, err = codec.Encode(doc)
	if err != nil {
		return "", "", fmt.Errorf("encode document: %w", err)
	}
	url, err = location.ShareURL(p.baseURL, token)
	if err != nil {
		return "", "", err
	}
	return token, url, nil
}

// Alive reports ErrClosed once the playground is closed.
func (p *Playground) Alive(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

// Health reports the session and persist state for the health endpoints.
func (p *Playground) Health() observability.PlaygroundHealth {
	// The breaker is held for the duration of a write; read it before
	// taking the event lock.
	breaker, failures := p.breaker.GetState().String(), p.breaker.Failures()

	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.engine.State()
	h := observability.PlaygroundHealth{
		Closed:     p.closed,
		Session:    string(state.Status),
		Epoch:      state.Epoch,
		Transcript: len(state.Transcript),
		Persist: observability.PersistHealth{
			Breaker:   breaker,
			Failures:  failures,
			Pending:   p.persister.Pending(),
			LastWrite: p.lastWrite,
		},
	}
	if p.persistErr != nil {
		h.Persist.LastError = security.PublicMessage(p.persistErr)
	}
	return h
}

// Close writes any pending edit to the location and releases the
// interpreter.
func (p *Playground) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.persister.Flush()
	p.engine.Close()
}

func (p *Playground) runLocked(ctx context.Context) {
	ctx, span := obs.StartSpan(ctx, "playground.run", map[string]any{
		"program_bytes":     len(p.doc.Program),
		"environment_bytes": len(p.doc.Environment),
	})
	defer span.End()

	start := time.Now()
	res, err := p.engine.LoadProgram(ctx, p.doc.Program, p.doc.Environment)
	outcome := "success"
	if err != nil {
		span.SetError(err)
		outcome = "error"
		var loadErr *session.LoadError
		if errors.As(err, &loadErr) {
			outcome = string(loadErr.Kind)
			span.SetAttribute("error_kind", outcome)
		}
	} else {
		span.SetAttribute("epoch", res.Epoch)
		span.SetAttribute("value_type", res.Type)
	}
	observability.RecordEvaluation("run", outcome, time.Since(start))
	p.updateGauges()
}

func (p *Playground) evalLocked(ctx context.Context, line string) {
	ctx, span := obs.StartSpan(ctx, "playground.eval", map[string]any{
		"line_bytes": len(line),
	})
	defer span.End()

	start := time.Now()
	in, err := p.engine.EvalLine(ctx, line)
	outcome := "success"
	if err != nil {
		span.SetError(err)
		outcome = "error"
	} else {
		span.SetAttribute("value_type", in.Type)
	}
	observability.RecordEvaluation("eval", outcome, time.Since(start))
	p.updateGauges()
}

func (p *Playground) updateGauges() {
	s := p.engine.State()
	observability.SetSessionGauges(s.Epoch, len(s.Transcript))
}

func (p *Playground) schedulePersist() {
	p.persister.Schedule(p.persist)
}

// persist writes the document as it is when the quiet interval elapses.
func (p *Playground) persist() {
	doc := p.Document()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	ctx, span := obs.StartSpan(ctx, "playground.persist", nil)
	defer span.End()

	token, err := codec.Encode(doc)
	if err != nil {
		span.SetError(err)
		observability.RecordPersist("error", 0)
		log.Printf("[Playground] WARNING: encode document: %v", err)
		return
	}
	span.SetAttribute("token_bytes", len(token))

	err = p.breaker.Execute(func() error {
		return p.loc.SetFragment(ctx, token)
	})
	switch {
	case errors.Is(err, security.ErrCircuitOpen):
		observability.RecordPersist("skipped", 0)
		log.Printf("[Playground] WARNING: shareable location keeps failing, write skipped")
		return
	case err != nil:
		span.SetError(err)
		observability.RecordPersist("error", 0)
		log.Printf("[Playground] WARNING: write shareable location: %v", err)
		p.recordPersist(err)
		return
	}
	observability.RecordPersist("success", len(token))
	p.recordPersist(nil)
}

func (p *Playground) recordPersist(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persistErr = err
	if err == nil {
		p.lastWrite = p.clock.Now()
	}
}

func (p *Playground) snapshotLocked() Snapshot {
	state := p.engine.State()

	token, err := codec.Encode(p.doc)
	if err != nil {
		log.Printf("[Playground] WARNING: encode document: %v", err)
	}

	s := Snapshot{
		Document:       p.doc,
		Token:          token,
		Status:         state.Status,
		Epoch:          state.Epoch,
		Result:         state.Result,
		Transcript:     state.Newest(),
		PersistPending: p.persister.Pending(),
	}
	if state.Error.Displayable() {
		s.Error = state.Error
	}
	return s
}
