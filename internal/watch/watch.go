// Package watch follows a program file and an environment file on disk and
// feeds their contents into the playground as edits.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aixgo-dev/playground/pkg/playground"
)

// ErrNoFiles is returned by New when neither path is set.
var ErrNoFiles = errors.New("watch: no program or environment file")

// Dispatcher receives playground events. *playground.Playground implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev playground.Event) playground.Snapshot
}

// Options configures a Watcher.
type Options struct {
	ProgramPath     string
	EnvironmentPath string
	// Run requests a run after every change.
	Run bool
	// OnChange is called with the state after each applied change.
	OnChange func(playground.Snapshot)
}

// Watcher applies file changes to a Dispatcher.
type Watcher struct {
	target Dispatcher
	opts   Options

	mu   sync.Mutex
	last map[string]string
}

// New creates a watcher. Paths are made absolute.
func New(target Dispatcher, opts Options) (*Watcher, error) {
	if opts.ProgramPath == "" && opts.EnvironmentPath == "" {
		return nil, ErrNoFiles
	}
	for _, p := range []*string{&opts.ProgramPath, &opts.EnvironmentPath} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return &Watcher{target: target, opts: opts, last: map[string]string{}}, nil
}

// Sync reads both files and applies them. Missing files are skipped.
func (w *Watcher) Sync(ctx context.Context) error {
	changed := false
	for _, path := range w.paths() {
		ok, err := w.apply(ctx, path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		changed = changed || ok
	}
	if changed {
		w.finish(ctx)
	}
	return nil
}

// Run watches the parent directories of both files until ctx ends. The
// directories are watched rather than the files so editors that save by
// rename are followed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dirs := map[string]bool{}
	for _, path := range w.paths() {
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	log.Printf("[Watch] following %d file(s)", len(w.paths()))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			path := w.match(event.Name)
			if path == "" {
				continue
			}
			changed, err := w.apply(ctx, path)
			if err != nil {
				log.Printf("[Watch] WARNING: read %s: %v", path, err)
				continue
			}
			if changed {
				w.finish(ctx)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Watch] WARNING: %v", err)
		}
	}
}

func (w *Watcher) paths() []string {
	var paths []string
	if w.opts.ProgramPath != "" {
		paths = append(paths, w.opts.ProgramPath)
	}
	if w.opts.EnvironmentPath != "" {
		paths = append(paths, w.opts.EnvironmentPath)
	}
	return paths
}

func (w *Watcher) match(name string) string {
	abs, err := filepath.Abs(name)
	if err != nil {
		return ""
	}
	for _, path := range w.paths() {
		if abs == path {
			return path
		}
	}
	return ""
}

// apply dispatches the edit for path and reports whether its content changed
// since the last read.
func (w *Watcher) apply(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	text := string(data)

	w.mu.Lock()
	prev, seen := w.last[path]
	w.last[path] = text
	w.mu.Unlock()
	if seen && prev == text {
		return false, nil
	}

	if path == w.opts.ProgramPath {
		w.target.Dispatch(ctx, playground.ProgramEdited{Text: text})
	} else {
		w.target.Dispatch(ctx, playground.EnvironmentEdited{Text: text})
	}
	log.Printf("[Watch] applied %s (%d bytes)", filepath.Base(path), len(data))
	return true, nil
}

func (w *Watcher) finish(ctx context.Context) {
	var snapshot playground.Snapshot
	if w.opts.Run {
		snapshot = w.target.Dispatch(ctx, playground.RunRequested{})
	} else if s, ok := w.target.(interface{ Snapshot() playground.Snapshot }); ok {
		snapshot = s.Snapshot()
	}
	if w.opts.OnChange != nil {
		w.opts.OnChange(snapshot)
	}
}
