// Package fingerprint remembers, per repository and path, the content digest
// and remote file id of the last successful transfer.
package fingerprint

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"synmigrate/internal/model"
	"synmigrate/internal/repository"
)

type State string

const (
	StateNew       State = "NEW"
	StateUnchanged State = "UNCHANGED"
	StateChanged   State = "CHANGED"
)

type Digest struct {
	MD5  string
	Size int64
}

// Hash digests the exact bytes of the file at path.
func Hash(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Digest{}, err
	}

	return Digest{MD5: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

type Record struct {
	Hash     string
	RemoteID string
	Size     int64
}

type Store struct {
	repo *repository.FingerprintRepository

	// SkipHashChecks treats every file as changed. Records are still written
	// so the flag can be turned off again without a full re-upload.
	SkipHashChecks bool

	mu      sync.Mutex
	loaded  map[string]map[string]Record
	pending map[string]map[string]Record
}

func NewStore(repo *repository.FingerprintRepository, skipHashChecks bool) *Store {
	return &Store{
		repo:           repo,
		SkipHashChecks: skipHashChecks,
		loaded:         make(map[string]map[string]Record),
		pending:        make(map[string]map[string]Record),
	}
}

// Load reads the durable records of repoID. It drops anything staged for
// that repository by an earlier, unflushed pass.
func (s *Store) Load(_ context.Context, repoID string) error {
	rows, err := s.repo.GetByRepo(repoID)
	if err != nil {
		return fmt.Errorf("failed to load fingerprints for %s: %w", repoID, err)
	}

	records := make(map[string]Record, len(rows))
	for _, row := range rows {
		records[row.Path] = Record{Hash: row.Hash, RemoteID: row.RemoteID, Size: row.Size}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded[repoID] = records
	delete(s.pending, repoID)
	return nil
}

// Get returns the newest known record: staged first, then durable.
func (s *Store) Get(repoID, path string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.pending[repoID][path]; ok {
		return rec, true
	}

	rec, ok := s.loaded[repoID][path]
	return rec, ok
}

// Classify decides whether the file at path needs a transfer.
func (s *Store) Classify(repoID, path, hash string) State {
	rec, ok := s.Get(repoID, path)
	switch {
	case s.SkipHashChecks:
		return StateChanged
	case !ok:
		return StateNew
	case rec.Hash != hash || rec.RemoteID == "":
		return StateChanged
	default:
		return StateUnchanged
	}
}

// Put stages a record. It becomes durable with the next Flush of repoID.
func (s *Store) Put(repoID, path, hash, remoteID string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[repoID] == nil {
		s.pending[repoID] = make(map[string]Record)
	}
	s.pending[repoID][path] = Record{Hash: hash, RemoteID: remoteID, Size: size}
}

// Pending reports how many records are staged for repoID.
func (s *Store) Pending(repoID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[repoID])
}

// Flush persists every staged record of repoID in a single transaction.
func (s *Store) Flush(_ context.Context, repoID string) error {
	s.mu.Lock()
	staged := s.pending[repoID]
	s.mu.Unlock()

	if len(staged) == 0 {
		return nil
	}

	rows := make([]model.Fingerprint, 0, len(staged))
	for path, rec := range staged {
		rows = append(rows, model.Fingerprint{
			RepoID:   repoID,
			Path:     path,
			Hash:     rec.Hash,
			RemoteID: rec.RemoteID,
			Size:     rec.Size,
		})
	}

	if err := s.repo.SaveAll(rows); err != nil {
		return fmt.Errorf("failed to flush fingerprints for %s: %w", repoID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded[repoID] == nil {
		s.loaded[repoID] = make(map[string]Record)
	}
	for path, rec := range staged {
		s.loaded[repoID][path] = rec
	}
	delete(s.pending, repoID)
	return nil
}

// Discard drops staged records of repoID without persisting them.
func (s *Store) Discard(repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, repoID)
}
