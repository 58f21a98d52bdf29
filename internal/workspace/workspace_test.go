package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_Lock(t *testing.T) {
	base := t.TempDir()
	work := filepath.Join(base, "work")
	state := filepath.Join(base, "state")

	first, err := New(work, state)
	require.NoError(t, err)
	require.NoError(t, first.Setup())
	assert.DirExists(t, work)
	assert.FileExists(t, filepath.Join(state, lockFile))

	second, err := New(work, state)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Setup(), ErrWorkspaceLocked)

	// unlocking a workspace that never held the lock keeps the file
	require.NoError(t, second.Unlock())
	assert.FileExists(t, filepath.Join(state, lockFile))

	require.NoError(t, first.Unlock())
	assert.NoFileExists(t, filepath.Join(state, lockFile))

	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())
}
