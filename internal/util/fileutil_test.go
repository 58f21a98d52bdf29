package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/tmp/ghap")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "tmp", "ghap"), got)

	got, err = ExpandPath("relative/dir")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}

func TestAtomicWrite(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "nested", "token.json")

	require.NoError(t, AtomicWrite(dst, strings.NewReader("one"), 0600))
	require.NoError(t, AtomicWrite(dst, strings.NewReader("two"), 0600))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	assert.NoFileExists(t, dst+".synmigrate.tmp")
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	require.NoError(t, RemoveIfExists(path))
	require.NoError(t, RemoveIfExists(path))
	assert.NoFileExists(t, path)
}
