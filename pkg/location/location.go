// Package location holds the single shareable-location slot a playground
// document is persisted to. The slot stores one URL fragment token.
package location

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrEmptyPath is returned when a File slot is created without a path.
var ErrEmptyPath = errors.New("location: file path is empty")

// Location is the shareable location. Implementations must be safe for
// concurrent use.
type Location interface {
	// Fragment returns the stored token without the leading '#'. An empty
	// slot returns "" and no error.
	Fragment(ctx context.Context) (string, error)

	// SetFragment replaces the stored token.
	SetFragment(ctx context.Context, token string) error
}

// Memory is an in-process slot.
type Memory struct {
	mu       sync.RWMutex
	fragment string
	writes   int
}

// NewMemory creates a slot holding fragment.
func NewMemory(fragment string) *Memory {
	return &Memory{fragment: ParseFragment(fragment)}
}

// Fragment implements Location.
func (m *Memory) Fragment(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fragment, nil
}

// SetFragment implements Location.
func (m *Memory) SetFragment(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragment = token
	m.writes++
	return nil
}

// Writes returns how many times SetFragment was called.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// File is a slot backed by a single file. The file holds the token followed
// by a newline. The directory is created with 0700 and the file written with
// 0600 through a rename, so readers never see a partial token.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a file slot. The file need not exist yet.
func NewFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create location directory: %w", err)
	}
	return &File{path: path}, nil
}

// Path returns the file the slot is stored in.
func (f *File) Path() string {
	return f.path
}

// Fragment implements Location. A missing file is an empty slot.
func (f *File) Fragment(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path) // #nosec G304 - path is set by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read location: %w", err)
	}
	return ParseFragment(string(data)), nil
}

// SetFragment implements Location.
func (f *File) SetFragment(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := writeFileAtomic(f.path, []byte(token+"\n")); err != nil {
		return fmt.Errorf("write location: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	cleanup = false
	return nil
}

// ParseFragment extracts a token from "#token", a bare token or a URL that
// carries a fragment. Surrounding whitespace is ignored. A URL without a
// fragment yields "".
func ParseFragment(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[i+1:]
	}
	if strings.Contains(s, "://") {
		return ""
	}
	return s
}

// ShareURL appends token to base as its fragment, replacing any fragment base
// already had.
func ShareURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String() + "#" + token, nil
}
