package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"synmigrate/internal/db"
	"synmigrate/internal/repository"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *repository.FingerprintRepository {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repository.NewFingerprintRepository(conn)
}

func TestHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	d, err := Hash(path)
	require.NoError(t, err)
	assert.Equal(t, "b1946ac92492d2347c6235b4d2611184", d.MD5)
	assert.Equal(t, int64(6), d.Size)

	// line endings are not normalized
	require.NoError(t, os.WriteFile(path, []byte("hello\r\n"), 0644))
	d2, err := Hash(path)
	require.NoError(t, err)
	assert.NotEqual(t, d.MD5, d2.MD5)
}

func TestHash_MissingFile(t *testing.T) {
	_, err := Hash(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestStore_Classify(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newRepo(t), false)
	require.NoError(t, s.Load(ctx, "repo"))

	assert.Equal(t, StateNew, s.Classify("repo", "a.txt", "h1"))

	s.Put("repo", "a.txt", "h1", "syn1", 3)
	assert.Equal(t, StateUnchanged, s.Classify("repo", "a.txt", "h1"))
	assert.Equal(t, StateChanged, s.Classify("repo", "a.txt", "h2"))

	s.Put("repo", "b.txt", "h1", "", 3)
	assert.Equal(t, StateChanged, s.Classify("repo", "b.txt", "h1"))
}

func TestStore_SkipHashChecks(t *testing.T) {
	s := NewStore(newRepo(t), true)
	require.NoError(t, s.Load(context.Background(), "repo"))

	assert.Equal(t, StateChanged, s.Classify("repo", "a.txt", "h1"))
	s.Put("repo", "a.txt", "h1", "syn1", 1)
	assert.Equal(t, StateChanged, s.Classify("repo", "a.txt", "h1"))

	s.SkipHashChecks = false
	assert.Equal(t, StateUnchanged, s.Classify("repo", "a.txt", "h1"))
}

func TestStore_FlushIsPerRepository(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	s := NewStore(repo, false)
	require.NoError(t, s.Load(ctx, "one"))
	require.NoError(t, s.Load(ctx, "two"))
	s.Put("one", "a.txt", "h1", "syn1", 1)
	s.Put("two", "b.txt", "h2", "syn2", 2)

	require.NoError(t, s.Flush(ctx, "one"))
	assert.Zero(t, s.Pending("one"))
	assert.Equal(t, 1, s.Pending("two"))

	// a fresh store only sees what was flushed
	fresh := NewStore(repo, false)
	require.NoError(t, fresh.Load(ctx, "one"))
	require.NoError(t, fresh.Load(ctx, "two"))

	rec, ok := fresh.Get("one", "a.txt")
	require.True(t, ok)
	assert.Equal(t, Record{Hash: "h1", RemoteID: "syn1", Size: 1}, rec)

	_, ok = fresh.Get("two", "b.txt")
	assert.False(t, ok)
}

func TestStore_FlushUpserts(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	s := NewStore(repo, false)
	require.NoError(t, s.Load(ctx, "r"))

	s.Put("r", "a.txt", "h1", "syn1", 1)
	require.NoError(t, s.Flush(ctx, "r"))
	s.Put("r", "a.txt", "h2", "syn1", 2)
	require.NoError(t, s.Flush(ctx, "r"))

	rows, err := repo.GetByRepo("r")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "h2", rows[0].Hash)
}

func TestStore_DiscardAndReloadDropStaged(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newRepo(t), false)
	require.NoError(t, s.Load(ctx, "r"))

	s.Put("r", "a.txt", "h1", "syn1", 1)
	s.Discard("r")
	_, ok := s.Get("r", "a.txt")
	assert.False(t, ok)

	s.Put("r", "a.txt", "h1", "syn1", 1)
	require.NoError(t, s.Load(ctx, "r"))
	_, ok = s.Get("r", "a.txt")
	assert.False(t, ok)
}

func TestStore_FlushNothingIsNoop(t *testing.T) {
	s := NewStore(newRepo(t), false)
	assert.NoError(t, s.Flush(context.Background(), "empty"))
}
