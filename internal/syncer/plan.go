package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"synmigrate/internal/fingerprint"
	"synmigrate/internal/logger"
	"synmigrate/internal/pathmap"
	"synmigrate/internal/resolver"
	"time"

	"go.uber.org/zap"
)

// Plan classifies every file of the tree without writing anything. Each
// result keeps its initial state; files whose destination folder does not
// exist yet carry the lookup error. Nothing is staged or flushed.
func (d *Driver) Plan(ctx context.Context, pass Pass) (*Report, error) {
	start := time.Now()

	if _, err := os.Stat(pass.Root); err != nil {
		return nil, fmt.Errorf("cannot read working tree: %w", err)
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
		return nil, fmt.Errorf("failed to walk %s: %w", pass.Root, err)
	}

	report := &Report{RepoID: pass.RepoID}
	for _, rel := range ignored {
		report.add(FileResult{Path: rel, Initial: StateIgnored, State: StateIgnored})
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := FileResult{Path: rel}
		digest, err := fingerprint.Hash(filepath.Join(pass.Root, filepath.FromSlash(rel)))
		if err != nil {
			result.Initial, result.State, result.Err = StateNew, StateFailed, &TransferError{Path: rel, Err: err}
			report.add(result)
			continue
		}

		result.Size = digest.Size
		result.Initial = State(d.fingerprints.Classify(pass.RepoID, rel, digest.MD5))
		result.State = result.Initial
		if prev, ok := d.fingerprints.Get(pass.RepoID, rel); ok {
			result.RemoteID = prev.RemoteID
		}

		switch {
		case d.opts.SkipEmptyFiles && digest.Size == 0:
			result.State = StateIgnored
		case result.Initial != StateUnchanged:
			mapping := pathmap.Map(pass.Root, rel)
			if _, err := res.ResolveContainer(ctx, pass.ContainerID, pass.containers(mapping)); err != nil {
				result.Err = err
			}
		}

		logger.Log.Debug("planned file",
			zap.String("path", rel),
			zap.String("state", string(result.State)),
			zap.Bool("missing_parent", result.Err != nil))
		report.add(result)
	}

	report.Duration = time.Since(start)
	return report, nil
}
