// Package memstore is an in-memory store backend with call accounting. It
// backs tests and dry runs.
package memstore

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"synmigrate/internal/store"
)

type Store struct {
	mu       sync.Mutex
	seq      int
	entities map[string]*entry
	children map[string]map[string]string

	findCalls   map[string]int
	createCalls map[string]int
	uploads     []store.FileUpload

	// UploadErr, when set, is consulted before every upload.
	UploadErr func(f store.FileUpload) error
	// BeforeCreate runs before a folder is created; tests use it to simulate a
	// concurrent writer creating the same name first.
	BeforeCreate func(parentID, name string)
	// LoginErr is returned by Login when set.
	LoginErr error
	// Teams and StorageLocations, when set, list the ids that exist. Nil
	// accepts every id.
	Teams            []string
	StorageLocations []string

	readOnly map[string]bool
}

type entry struct {
	entity  store.Entity
	content []byte
	version int
	admins  []string
	storage string
}

var _ store.ProjectStore = (*Store)(nil)

func New() *Store {
	return &Store{
		entities:    make(map[string]*entry),
		children:    make(map[string]map[string]string),
		findCalls:   make(map[string]int),
		createCalls: make(map[string]int),
		readOnly:    make(map[string]bool),
	}
}

func key(parentID, name string) string {
	return parentID + "/" + name
}

func (s *Store) nextID() string {
	s.seq++
	return fmt.Sprintf("mem%d", s.seq)
}

// Put inserts an entity directly, bypassing the call counters.
func (s *Store) Put(parentID, name string, kind store.EntityKind) store.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(parentID, name, kind)
}

func (s *Store) insert(parentID, name string, kind store.EntityKind) store.Entity {
	e := store.Entity{ID: s.nextID(), Name: name, ParentID: parentID, Kind: kind}
	s.entities[e.ID] = &entry{entity: e}
	if s.children[parentID] == nil {
		s.children[parentID] = make(map[string]string)
	}
	s.children[parentID][name] = e.ID
	return e
}

func (s *Store) lookup(parentID, name string) (*entry, bool) {
	id, ok := s.children[parentID][name]
	if !ok {
		return nil, false
	}

	return s.entities[id], true
}

func (s *Store) Login(_ context.Context, creds store.Credentials) error {
	if s.LoginErr != nil {
		return &store.AuthenticationError{User: creds.Username, Err: s.LoginErr}
	}

	return nil
}

func (s *Store) FindChild(_ context.Context, parentID, name string) (store.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.findCalls[key(parentID, name)]++
	e, ok := s.lookup(parentID, name)
	if !ok {
		return store.Entity{}, store.ErrNotFound
	}

	return e.entity, nil
}

func (s *Store) CreateFolder(_ context.Context, parentID, name string) (store.Entity, error) {
	if s.BeforeCreate != nil {
		s.BeforeCreate(parentID, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.createCalls[key(parentID, name)]++
	if _, ok := s.entities[parentID]; !ok {
		return store.Entity{}, fmt.Errorf("parent %s: %w", parentID, store.ErrNotFound)
	}
	if _, ok := s.lookup(parentID, name); ok {
		return store.Entity{}, store.ErrAlreadyExists
	}

	return s.insert(parentID, name, store.KindFolder), nil
}

func (s *Store) UploadFile(_ context.Context, f store.FileUpload) (store.Entity, error) {
	if s.UploadErr != nil {
		if err := s.UploadErr(f); err != nil {
			return store.Entity{}, err
		}
	}

	content, err := os.ReadFile(f.LocalPath)
	if err != nil {
		return store.Entity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploads = append(s.uploads, f)

	e, ok := s.lookup(f.ParentID, f.Name)
	if ok && e.entity.Kind != store.KindFile {
		return store.Entity{}, store.ErrWrongKind
	}
	if !ok {
		ent := s.insert(f.ParentID, f.Name, store.KindFile)
		e = s.entities[ent.ID]
	}

	e.content = content
	e.version++
	e.entity.MD5 = f.MD5
	return e.entity, nil
}

func (s *Store) FindProject(_ context.Context, nameOrID string) (store.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entities[nameOrID]; ok && e.entity.Kind == store.KindProject {
		return e.entity, nil
	}
	if e, ok := s.lookup("", nameOrID); ok {
		if e.entity.Kind != store.KindProject {
			return store.Entity{}, store.ErrWrongKind
		}
		return e.entity, nil
	}

	return store.Entity{}, store.ErrNotFound
}

func (s *Store) CreateProject(_ context.Context, name string) (store.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup("", name); ok {
		return store.Entity{}, store.ErrAlreadyExists
	}

	return s.insert("", name, store.KindProject), nil
}

func (s *Store) GrantAdmin(_ context.Context, projectID, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[projectID]
	if !ok {
		return store.ErrNotFound
	}
	e.admins = append(e.admins, teamID)
	return nil
}

func (s *Store) SetStorageLocation(_ context.Context, projectID, locationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[projectID]
	if !ok {
		return store.ErrNotFound
	}
	e.storage = locationID
	return nil
}

// DenyWrite makes CheckWriteAccess fail for projectID.
func (s *Store) DenyWrite(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly[projectID] = true
}

func (s *Store) CheckWriteAccess(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[projectID]; !ok {
		return store.ErrNotFound
	}
	if s.readOnly[projectID] {
		return fmt.Errorf("project %s: %w", projectID, store.ErrAccessDenied)
	}
	return nil
}

func (s *Store) CheckTeam(_ context.Context, teamID string) error {
	if s.Teams != nil && !slices.Contains(s.Teams, teamID) {
		return fmt.Errorf("team %s: %w", teamID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CheckStorageLocation(_ context.Context, locationID string) error {
	if s.StorageLocations != nil && !slices.Contains(s.StorageLocations, locationID) {
		return fmt.Errorf("storage location %s: %w", locationID, store.ErrNotFound)
	}
	return nil
}

// FindCalls counts FindChild calls for one (parent, name) pair.
func (s *Store) FindCalls(parentID, name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls[key(parentID, name)]
}

func (s *Store) CreateCalls(parentID, name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls[key(parentID, name)]
}

func (s *Store) TotalFindCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.findCalls {
		n += c
	}
	return n
}

func (s *Store) Uploads() []store.FileUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.FileUpload(nil), s.uploads...)
}

func (s *Store) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.findCalls = make(map[string]int)
	s.createCalls = make(map[string]int)
	s.uploads = nil
}

// Resolve walks a slash separated path from rootID and returns the entity at
// the end of it.
func (s *Store) Resolve(rootID, path string) (store.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entities[rootID]
	if !ok {
		return store.Entity{}, false
	}

	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		next, ok := s.lookup(cur.entity.ID, part)
		if !ok {
			return store.Entity{}, false
		}
		cur = next
	}

	return cur.entity, true
}

// Content returns the last uploaded bytes and the version count of a file.
func (s *Store) Content(id string) ([]byte, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok || e.entity.Kind != store.KindFile {
		return nil, 0, false
	}

	return e.content, e.version, true
}

func (s *Store) Admins(projectID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entities[projectID]; ok {
		return append([]string(nil), e.admins...)
	}
	return nil
}

func (s *Store) StorageLocation(projectID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entities[projectID]; ok {
		return e.storage
	}
	return ""
}
