package resolver

import (
	"context"
	"errors"
	"sync"
	"synmigrate/internal/store"
	"synmigrate/internal/store/memstore"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProject(t *testing.T) (*memstore.Store, string) {
	t.Helper()
	s := memstore.New()
	p, err := s.CreateProject(context.Background(), "GHAP - repo")
	require.NoError(t, err)
	return s, p.ID
}

func TestResolveOrCreate_CreatesChain(t *testing.T) {
	s, root := newProject(t)
	r := New(s)

	id, err := r.ResolveOrCreate(context.Background(), root, []string{"a", "b"})
	require.NoError(t, err)

	ent, ok := s.Resolve(root, "a/b")
	require.True(t, ok)
	assert.Equal(t, ent.ID, id)
	assert.Equal(t, store.KindFolder, ent.Kind)
}

func TestResolveOrCreate_EmptyPathIsRoot(t *testing.T) {
	s, root := newProject(t)
	r := New(s)

	id, err := r.ResolveOrCreate(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, root, id)
	assert.Zero(t, s.TotalFindCalls())
}

func TestResolveOrCreate_MemoizesPerDirectory(t *testing.T) {
	s, root := newProject(t)
	r := New(s)
	ctx := context.Background()

	// two files under src/pkg resolve the same container path
	first, err := r.ResolveOrCreate(ctx, root, []string{"src", "pkg"})
	require.NoError(t, err)
	second, err := r.ResolveOrCreate(ctx, root, []string{"src", "pkg"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	src, ok := s.Resolve(root, "src")
	require.True(t, ok)

	assert.Equal(t, 1, s.FindCalls(root, "src"))
	assert.Equal(t, 1, s.CreateCalls(root, "src"))
	assert.Equal(t, 1, s.FindCalls(src.ID, "pkg"))
	assert.Equal(t, 1, s.CreateCalls(src.ID, "pkg"))
	assert.Equal(t, int64(2), r.Stats().Hits)
}

func TestResolveOrCreate_ExistingFolderIsReused(t *testing.T) {
	s, root := newProject(t)
	existing := s.Put(root, "docs", store.KindFolder)
	r := New(s)

	id, err := r.ResolveOrCreate(context.Background(), root, []string{"docs"})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, id)
	assert.Zero(t, s.CreateCalls(root, "docs"))
}

func TestResolveOrCreate_RecoversFromCreateRace(t *testing.T) {
	s, root := newProject(t)
	var raced string
	s.BeforeCreate = func(parentID, name string) {
		if name == "shared" && raced == "" {
			// a concurrent run wins the race
			raced = s.Put(parentID, name, store.KindFolder).ID
		}
	}
	r := New(s)

	id, err := r.ResolveOrCreate(context.Background(), root, []string{"shared"})
	require.NoError(t, err)
	assert.Equal(t, raced, id)
	assert.Equal(t, 2, s.FindCalls(root, "shared"))
}

func TestResolveOrCreate_FileWhereFolderExpected(t *testing.T) {
	s, root := newProject(t)
	s.Put(root, "notes", store.KindFile)
	r := New(s)

	_, err := r.ResolveOrCreate(context.Background(), root, []string{"notes", "inner"})
	require.Error(t, err)

	resErr, ok := errors.AsType[*ContainerResolutionError](err)
	require.True(t, ok)
	assert.Equal(t, "notes", resErr.Name)
	assert.Equal(t, "notes", resErr.Path)
	assert.ErrorIs(t, err, store.ErrWrongKind)
}

func TestResolveOrCreate_InvalidName(t *testing.T) {
	s, root := newProject(t)
	r := New(s)

	_, err := r.ResolveOrCreate(context.Background(), root, []string{"ok", "bad:name", "deeper"})
	require.Error(t, err)

	resErr, ok := errors.AsType[*ContainerResolutionError](err)
	require.True(t, ok)
	assert.Equal(t, "ok/bad:name", resErr.Path)
	assert.ErrorIs(t, err, store.ErrInvalidName)
	assert.Zero(t, s.CreateCalls(root, "bad:name"))
}

func TestResolveContainer_DoesNotCreate(t *testing.T) {
	s, root := newProject(t)
	r := New(s)

	_, err := r.ResolveContainer(context.Background(), root, []string{"missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, s.CreateCalls(root, "missing"))

	_, ok := s.Resolve(root, "missing")
	assert.False(t, ok)
}

func TestResolveOrCreate_ConcurrentCallersShareOneCreate(t *testing.T) {
	s, root := newProject(t)
	r := New(s)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	errs := make([]error, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = r.ResolveOrCreate(context.Background(), root, []string{"dir", "sub"})
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, s.CreateCalls(root, "dir"))
}

func TestResolveOrCreate_CancelledContext(t *testing.T) {
	s, root := newProject(t)
	r := New(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ResolveOrCreate(ctx, root, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
