package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"synmigrate/internal/store"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

var queryRe = regexp.MustCompile(`^name='((?:[^'\\]|\\.)*)' and '([^']*)' in parents and trashed=false$`)

// fakeDrive serves files.list, files.create (metadata only), files.get and
// about.get.
type fakeDrive struct {
	mu    sync.Mutex
	files []*drive.File
	seq   int
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/about":
		_ = json.NewEncoder(w).Encode(&drive.About{User: &drive.User{EmailAddress: "me@example.com"}})

	case r.Method == http.MethodGet && r.URL.Path == "/files":
		m := queryRe.FindStringSubmatch(r.URL.Query().Get("q"))
		if m == nil {
			http.Error(w, `{"error":{"code":400,"message":"bad query"}}`, http.StatusBadRequest)
			return
		}
		name := strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(m[1])
		out := &drive.FileList{}
		for _, file := range f.files {
			if file.Name == name && file.Parents[0] == m[2] {
				out.Files = append(out.Files, file)
			}
		}
		_ = json.NewEncoder(w).Encode(out)

	case r.Method == http.MethodPost && r.URL.Path == "/files":
		var in drive.File
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.seq++
		in.Id = "f" + strconv.Itoa(f.seq)
		in.Capabilities = &drive.FileCapabilities{CanAddChildren: true, CanEdit: true}
		f.files = append(f.files, &in)
		_ = json.NewEncoder(w).Encode(&in)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/files/"):
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		for _, file := range f.files {
			if file.Id == id {
				_ = json.NewEncoder(w).Encode(file)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"File not found"}}`))

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeDrive) {
	t.Helper()

	fake := &fakeDrive{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	return New(svc), fake
}

func TestProjectAndFolders(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, store.Credentials{}))

	_, err := s.FindProject(ctx, "GHAP - repo")
	assert.ErrorIs(t, err, store.ErrNotFound)

	project, err := s.CreateProject(ctx, "GHAP - repo")
	require.NoError(t, err)
	assert.Equal(t, store.KindProject, project.Kind)
	assert.Empty(t, project.ParentID)

	found, err := s.FindProject(ctx, "GHAP - repo")
	require.NoError(t, err)
	assert.Equal(t, project.ID, found.ID)

	byID, err := s.FindProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, project.ID, byID.ID)

	_, err = s.CreateProject(ctx, "GHAP - repo")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	folder, err := s.CreateFolder(ctx, project.ID, "it's here")
	require.NoError(t, err)
	assert.Equal(t, store.KindFolder, folder.Kind)
	assert.Equal(t, project.ID, folder.ParentID)

	child, err := s.FindChild(ctx, project.ID, "it's here")
	require.NoError(t, err)
	assert.Equal(t, folder.ID, child.ID)

	_, err = s.CreateFolder(ctx, project.ID, "it's here")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = s.FindChild(ctx, project.ID, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Len(t, fake.files, 2)
}

func TestCheckWriteAccess(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	writable, err := s.CreateProject(ctx, "Writable")
	require.NoError(t, err)
	shared, err := s.CreateProject(ctx, "Shared with me")
	require.NoError(t, err)

	fake.mu.Lock()
	for _, file := range fake.files {
		if file.Id == shared.ID {
			file.Capabilities = &drive.FileCapabilities{CanAddChildren: false, CanEdit: true}
		}
	}
	fake.mu.Unlock()

	assert.NoError(t, s.CheckWriteAccess(ctx, writable.ID))
	assert.ErrorIs(t, s.CheckWriteAccess(ctx, shared.ID), store.ErrAccessDenied)
	assert.ErrorIs(t, s.CheckWriteAccess(ctx, "missing"), store.ErrNotFound)
}

func TestUnsupportedProvisioning(t *testing.T) {
	s, _ := newTestStore(t)

	assert.ErrorIs(t, s.GrantAdmin(context.Background(), "p", "t"), store.ErrUnsupported)
	assert.ErrorIs(t, s.SetStorageLocation(context.Background(), "p", "1"), store.ErrUnsupported)
	assert.ErrorIs(t, s.CheckTeam(context.Background(), "3334"), store.ErrUnsupported)
	assert.ErrorIs(t, s.CheckStorageLocation(context.Background(), "42"), store.ErrUnsupported)
}

func TestOpenWithoutCredentials(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir())
	_, ok := errors.AsType[*store.AuthenticationError](err)
	assert.True(t, ok)
}

func TestToEntity(t *testing.T) {
	file := toEntity(&drive.File{Id: "1", Name: "a.txt", Parents: []string{"p"}, Md5Checksum: "abc"}, store.KindFolder)
	assert.Equal(t, store.Entity{ID: "1", Name: "a.txt", ParentID: "p", Kind: store.KindFile, MD5: "abc"}, file)

	folder := toEntity(&drive.File{Id: "2", Name: "d", Parents: []string{"p"}, MimeType: folderMimeType}, store.KindFolder)
	assert.Equal(t, store.KindFolder, folder.Kind)
	assert.True(t, folder.Kind.IsContainer())
}

func TestEscapeName(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeName("it's"))
	assert.Equal(t, `a\\b`, escapeName(`a\b`))
}
