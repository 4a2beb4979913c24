package location

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("#abc")

	got, err := m.Fragment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	require.NoError(t, m.SetFragment(ctx, "def"))
	got, err = m.Fragment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "def", got)
	assert.Equal(t, 1, m.Writes())
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "fragment")

	f, err := NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, f.Path())

	got, err := f.Fragment(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "missing file is an empty slot")

	require.NoError(t, f.SetFragment(ctx, "tok1"))
	require.NoError(t, f.SetFragment(ctx, "tok2"))

	got, err = f.Fragment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok2", got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileReadsHandWrittenFragment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragment")
	require.NoError(t, os.WriteFile(path, []byte("  #xyz\n"), 0600))

	f, err := NewFile(path)
	require.NoError(t, err)

	got, err := f.Fragment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xyz", got)
}

func TestFileCanceledContext(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "fragment"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.SetFragment(ctx, "x"), context.Canceled)
}

func TestNewFileEmptyPath(t *testing.T) {
	_, err := NewFile(" ")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestParseFragment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "abc"},
		{"#abc", "abc"},
		{" #abc\n", "abc"},
		{"https://play.example/#abc", "abc"},
		{"https://play.example/?x=1#a-b_c", "a-b_c"},
		{"https://play.example/", ""},
		{"#", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseFragment(tt.in), "input %q", tt.in)
	}
}

func TestShareURL(t *testing.T) {
	got, err := ShareURL("http://localhost:8080/", "tok")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/#tok", got)

	got, err = ShareURL("http://localhost:8080/play#old", "tok")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/play#tok", got)

	_, err = ShareURL("http://[::1", "tok")
	assert.Error(t, err)
}
