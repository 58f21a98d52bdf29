// Package syncer walks a working tree and brings the store in line with it,
// uploading only files whose content changed since the last flushed pass.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"synmigrate/internal/fingerprint"
	"synmigrate/internal/logger"
	"synmigrate/internal/pathmap"
	"synmigrate/internal/resolver"
	"synmigrate/internal/store"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateNew       State = "NEW"
	StateUnchanged State = "UNCHANGED"
	StateChanged   State = "CHANGED"
	StateSynced    State = "SYNCED"
	StateFailed    State = "FAILED"
	// StateIgnored marks files that are never uploaded, such as empty files.
	StateIgnored State = "IGNORED"
)

type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s failed: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Threads bounds concurrent file transfers; 1 keeps the pass sequential.
	Threads        int
	SkipEmptyFiles bool
	IgnoreList     []string
}

type Driver struct {
	store        store.Store
	fingerprints *fingerprint.Store
	opts         Options
}

func NewDriver(s store.Store, fps *fingerprint.Store, opts Options) *Driver {
	if opts.Threads < 1 {
		opts.Threads = 1
	}

	return &Driver{
		store:        s,
		fingerprints: fps,
		opts:         opts,
	}
}

type Pass struct {
	// RepoID keys the fingerprint records of this pass.
	RepoID string
	// Root is the local directory mirrored into ContainerID.
	Root        string
	ContainerID string
	// Prefix lists folders between ContainerID and the tree root that may
	// not exist yet.
	Prefix []string
	// Resolver is optional; a fresh one is used when nil.
	Resolver *resolver.Resolver
}

// containers is the folder chain below ContainerID for one file.
func (p Pass) containers(m pathmap.Mapping) []string {
	if len(p.Prefix) == 0 {
		return m.Containers
	}
	return append(slices.Clip(p.Prefix), m.Containers...)
}

type FileResult struct {
	Path     string
	Initial  State
	State    State
	RemoteID string
	Size     int64
	Err      error
}

type Report struct {
	RepoID   string
	Files    []FileResult
	Synced   int
	Skipped  int
	// New and Changed count files a dry run would transfer.
	New      int
	Changed  int
	Failed   int
	Ignored  int
	Bytes    int64
	Duration time.Duration
}

func (r *Report) Failures() []FileResult {
	var failed []FileResult
	for _, f := range r.Files {
		if f.State == StateFailed {
			failed = append(failed, f)
		}
	}
	return failed
}

func (r *Report) add(res FileResult) {
	r.Files = append(r.Files, res)
	switch res.State {
	case StateSynced:
		r.Synced++
		r.Bytes += res.Size
	case StateUnchanged:
		r.Skipped++
	case StateFailed:
		r.Failed++
	case StateIgnored:
		r.Ignored++
	case StateNew:
		r.New++
	case StateChanged:
		r.Changed++
	}
}

// Run performs one pass. Per-file failures are recorded in the report and do
// not stop the pass. Fingerprints are flushed only when the whole tree was
// processed; otherwise the staged records are discarded and an error returned.
func (d *Driver) Run(ctx context.Context, pass Pass) (*Report, error) {
	start := time.Now()

	info, err := os.Stat(pass.Root)
	if err != nil {
		return nil, fmt.Errorf("cannot read working tree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working tree %s is not a directory", pass.Root)
	}

	if err := d.fingerprints.Load(ctx, pass.RepoID); err != nil {
		return nil, err
	}

	res := pass.Resolver
	if res == nil {
		res = resolver.New(d.store)
	}

	files, ignored, err := d.collect(pass.Root)
	if err != nil {
		d.fingerprints.Discard(pass.RepoID)
		return nil, fmt.Errorf("failed to walk %s: %w", pass.Root, err)
	}

	results := make([]FileResult, len(files))
	var seenMu sync.Mutex
	seen := make(map[string]string, len(files))

	g := new(errgroup.Group)
	g.SetLimit(d.opts.Threads)
	for i, rel := range files {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			mapping := pathmap.Map(pass.Root, rel)

			seenMu.Lock()
			other, dup := seen[mapping.Full()]
			if !dup {
				seen[mapping.Full()] = rel
			}
			seenMu.Unlock()

			if dup {
				results[i] = d.fail(FileResult{Path: rel, Initial: StateNew},
					&TransferError{Path: rel, Err: fmt.Errorf("remote path %s already used by %s", mapping.Full(), other)})
				return nil
			}

			results[i] = d.processFile(ctx, pass, res, rel, mapping)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		d.fingerprints.Discard(pass.RepoID)
		return nil, err
	}

	report := &Report{RepoID: pass.RepoID}
	for _, rel := range ignored {
		report.add(FileResult{Path: rel, Initial: StateIgnored, State: StateIgnored})
	}
	for _, r := range results {
		report.add(r)
	}

	if err := d.fingerprints.Flush(ctx, pass.RepoID); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	return report, nil
}

// collect lists regular files below root depth first, as slash separated
// relative paths. Ignored directories are not descended into.
func (d *Driver) collect(root string) (files, ignored []string, err error) {
	rules := LoadIgnoreList(root, d.opts.IgnoreList)

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if rules.ShouldIgnore(rel, entry.IsDir()) {
			logger.Log.Debug("ignoring path", zap.String("path", rel))
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			return nil
		}

		// follow symlinks to files, skip anything that is not a regular file
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			logger.Log.Debug("skipping non-regular file", zap.String("path", rel))
			ignored = append(ignored, rel)
			return nil
		}

		files = append(files, rel)
		return nil
	})

	return files, ignored, err
}

func (d *Driver) processFile(ctx context.Context, pass Pass, res *resolver.Resolver, rel string, mapping pathmap.Mapping) FileResult {
	result := FileResult{Path: rel}
	abs := filepath.Join(pass.Root, filepath.FromSlash(rel))

	if err := ctx.Err(); err != nil {
		result.Initial = StateNew
		return d.fail(result, err)
	}

	digest, err := fingerprint.Hash(abs)
	if err != nil {
		result.Initial = StateNew
		return d.fail(result, &TransferError{Path: rel, Err: err})
	}
	result.Size = digest.Size

	result.Initial = State(d.fingerprints.Classify(pass.RepoID, rel, digest.MD5))

	if d.opts.SkipEmptyFiles && digest.Size == 0 {
		logger.Log.Info("skipping empty file", zap.String("path", rel))
		result.State = StateIgnored
		return result
	}

	prev, _ := d.fingerprints.Get(pass.RepoID, rel)
	if result.Initial == StateUnchanged {
		logger.Log.Info("file is current", zap.String("path", rel))
		result.State = StateUnchanged
		result.RemoteID = prev.RemoteID
		return result
	}

	if err := store.ValidateName(mapping.Leaf); err != nil {
		return d.fail(result, &TransferError{Path: rel, Err: err})
	}

	parentID, err := res.ResolveOrCreate(ctx, pass.ContainerID, pass.containers(mapping))
	if err != nil {
		return d.fail(result, err)
	}

	ent, err := d.store.UploadFile(ctx, store.FileUpload{
		ParentID:   parentID,
		Name:       mapping.Leaf,
		LocalPath:  abs,
		ExistingID: prev.RemoteID,
		MD5:        digest.MD5,
		Size:       digest.Size,
	})
	if err != nil {
		return d.fail(result, &TransferError{Path: rel, Err: err})
	}

	if ent.MD5 != "" && ent.MD5 != digest.MD5 {
		return d.fail(result, &TransferError{
			Path: rel,
			Err:  fmt.Errorf("remote md5 %s does not match local md5 %s", ent.MD5, digest.MD5),
		})
	}

	d.fingerprints.Put(pass.RepoID, rel, digest.MD5, ent.ID, digest.Size)

	logger.Log.Info("file uploaded",
		zap.String("path", rel),
		zap.String("state", string(result.Initial)),
		zap.String("remote_id", ent.ID))

	result.State = StateSynced
	result.RemoteID = ent.ID
	return result
}

func (d *Driver) fail(result FileResult, err error) FileResult {
	result.State = StateFailed
	result.Err = err

	if errors.Is(err, context.Canceled) {
		logger.Log.Debug("file skipped, pass cancelled", zap.String("path", result.Path))
		return result
	}

	logger.Log.Error("file sync failed",
		zap.String("path", result.Path),
		zap.Error(err))
	return result
}
