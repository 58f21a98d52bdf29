// Package workspace owns the directory repositories are cloned into and the
// process lock that keeps two migrations from sharing state.
package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"synmigrate/internal/logger"
	"synmigrate/internal/util"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const lockFile = "synmigrate.lock"

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

type Workspace struct {
	// WorkDir holds the git working copies.
	WorkDir string
	// StateDir holds the state database and the lock file.
	StateDir string

	flock *flock.Flock
}

func New(workDir, stateDir string) (*Workspace, error) {
	work, err := util.ExpandPath(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", workDir, err)
	}

	state, err := util.ExpandPath(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", stateDir, err)
	}

	return &Workspace{
		WorkDir:  work,
		StateDir: state,
		flock:    flock.New(filepath.Join(state, lockFile)),
	}, nil
}

// Setup creates the directories and takes the lock.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.WorkDir, w.StateDir} {
		if err := util.EnsureDir(dir); err != nil {
			return err
		}
	}

	if err := w.Lock(); err != nil {
		return err
	}

	logger.Log.Info("workspace ready", zap.String("work_dir", w.WorkDir), zap.String("state_dir", w.StateDir))
	return nil
}

func (w *Workspace) Lock() error {
	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// only the holder removes the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return util.RemoveIfExists(w.flock.Path())
}
