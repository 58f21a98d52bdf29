// Package migrator walks the manifest and migrates each repository in turn:
// fetch, provision the project, resolve the destination, run the sync pass.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"regexp"
	"synmigrate/internal/gitrepo"
	"synmigrate/internal/logger"
	"synmigrate/internal/manifest"
	"synmigrate/internal/model"
	"synmigrate/internal/pathmap"
	"synmigrate/internal/repository"
	"synmigrate/internal/resolver"
	"synmigrate/internal/store"
	"synmigrate/internal/syncer"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var projectIDPattern = regexp.MustCompile(`(?i)^syn\d+$`)

type Options struct {
	WorkDir           string
	ProjectPrefix     string
	AdminTeamID       string
	StorageLocationID string
	// Manifest and Store are recorded with the run history.
	Manifest string
	Store    string
	// DryRun classifies files without creating or uploading anything.
	DryRun bool
}

type Outcome struct {
	Entry       manifest.Entry
	Status      model.RepoStatus
	ProjectID   string
	ProjectName string
	Report      *syncer.Report
	// Containers counts the folder lookups behind the pass.
	Containers resolver.Stats
	Err        error
}

// Mapping renders the outcome as "url (folder) -> project (id)".
func (o *Outcome) Mapping() string {
	src := o.Entry.URL
	if o.Entry.GitFolder != "" {
		src += " (" + o.Entry.GitFolder + ")"
	}
	return fmt.Sprintf("%s -> %s (%s)", src, o.ProjectName, o.ProjectID)
}

type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	// Outcomes follow manifest order.
	Outcomes []*Outcome
	// ByURL holds the last outcome of every URL.
	ByURL map[string]*Outcome
	// Warnings are the manifest rows that were skipped.
	Warnings []error
}

func (s *Summary) Failed() []*Outcome {
	var out []*Outcome
	for _, o := range s.Outcomes {
		if o.Status == model.RepoStatusFailed {
			out = append(out, o)
		}
	}
	return out
}

type Migrator struct {
	store  store.ProjectStore
	git    gitrepo.Provider
	driver *syncer.Driver
	runs   *repository.RunRepository
	opts   Options
}

// New wires a migrator. runs may be nil to skip recording history.
func New(s store.ProjectStore, git gitrepo.Provider, driver *syncer.Driver, runs *repository.RunRepository, opts Options) *Migrator {
	return &Migrator{
		store:  s,
		git:    git,
		driver: driver,
		runs:   runs,
		opts:   opts,
	}
}

// Run processes entries sequentially. A failing repository is recorded and
// the next one starts; only an unknown admin team or storage location, an
// unreadable manifest or cancellation stops the run early. The summary is
// returned in every case.
func (m *Migrator) Run(ctx context.Context, entries iter.Seq2[manifest.Entry, error]) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		ByURL:     make(map[string]*Outcome),
	}

	logger.Log.Info("migration started",
		zap.String("run_id", summary.RunID),
		zap.String("manifest", m.opts.Manifest),
		zap.Bool("dry_run", m.opts.DryRun))

	if err := m.checkSettings(ctx); err != nil {
		summary.FinishedAt = time.Now()
		return summary, err
	}

	git := gitrepo.NewOnce(m.git)

	var runErr error
	for entry, err := range entries {
		if err != nil {
			if mErr, ok := errors.AsType[*manifest.ManifestError](err); ok {
				logger.Log.Warn("skipping manifest row", zap.Int("line", mErr.Line), zap.String("reason", mErr.Reason))
				summary.Warnings = append(summary.Warnings, err)
				continue
			}
			runErr = err
			break
		}

		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		outcome := m.migrate(ctx, git, entry)
		if errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, context.DeadlineExceeded) {
			runErr = outcome.Err
			break
		}

		summary.Outcomes = append(summary.Outcomes, outcome)
		summary.ByURL[entry.URL] = outcome
	}

	summary.FinishedAt = time.Now()
	m.record(summary)

	logger.Log.Info("migration finished",
		zap.String("run_id", summary.RunID),
		zap.Int("repos", len(summary.Outcomes)),
		zap.Int("failed", len(summary.Failed())),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)))

	return summary, runErr
}

func (m *Migrator) migrate(ctx context.Context, git gitrepo.Provider, entry manifest.Entry) *Outcome {
	outcome := &Outcome{Entry: entry, ProjectName: entry.ProjectName(m.opts.ProjectPrefix)}
	log := logger.Log.With(zap.String("url", entry.URL), zap.Int("line", entry.Line))
	log.Info("processing repository", zap.String("folder", entry.GitFolder), zap.String("subpath", entry.Subpath))

	fail := func(err error) *Outcome {
		outcome.Status = model.RepoStatusFailed
		outcome.Err = err
		if !errors.Is(err, context.Canceled) {
			log.Error("repository failed", zap.Error(err))
		}
		return outcome
	}

	dir := gitrepo.LocalDir(m.opts.WorkDir, entry.URL)
	if err := git.Ensure(ctx, entry.URL, dir); err != nil {
		return fail(err)
	}

	project, err := m.project(ctx, outcome.ProjectName)
	if err != nil {
		return fail(err)
	}
	outcome.ProjectID = project.ID
	outcome.ProjectName = project.Name
	log.Info("repository mapped", zap.String("mapping", outcome.Mapping()))

	res := resolver.New(m.store)
	subpath := pathmap.SplitDir(entry.Subpath)

	var (
		containerID string
		prefix      []string
		missing     error
	)
	if m.opts.DryRun {
		containerID, err = res.ResolveContainer(ctx, project.ID, subpath)
		if errors.Is(err, store.ErrNotFound) {
			// files are still classified, each reporting the missing folder
			log.Warn("destination folder not found", zap.Error(err))
			containerID, prefix, missing, err = project.ID, subpath, err, nil
		}
	} else {
		containerID, err = res.ResolveOrCreate(ctx, project.ID, subpath)
	}
	if err != nil {
		return fail(err)
	}

	pass := syncer.Pass{
		RepoID:      entry.Identity(),
		Root:        filepath.Join(dir, filepath.FromSlash(entry.GitFolder)),
		ContainerID: containerID,
		Prefix:      prefix,
		Resolver:    res,
	}

	var report *syncer.Report
	if m.opts.DryRun {
		report, err = m.driver.Plan(ctx, pass)
	} else {
		report, err = m.driver.Run(ctx, pass)
	}
	outcome.Report = report
	outcome.Containers = res.Stats()
	if err != nil {
		return fail(err)
	}

	outcome.Status = model.RepoStatusSuccess
	if report.Failed > 0 {
		outcome.Status = model.RepoStatusPartial
	}
	if missing != nil {
		outcome.Status = model.RepoStatusPartial
		outcome.Err = missing
	}

	log.Info("repository done",
		zap.String("status", string(outcome.Status)),
		zap.Int("synced", report.Synced),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return outcome
}

// project finds the destination project, creating and configuring it when
// missing. A dry run never creates.
func (m *Migrator) project(ctx context.Context, nameOrID string) (store.Entity, error) {
	project, err := m.store.FindProject(ctx, nameOrID)
	if err == nil {
		logger.Log.Info("project found", zap.String("id", project.ID), zap.String("name", project.Name))
		return m.writable(ctx, project)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Entity{}, fmt.Errorf("failed to find project %s: %w", nameOrID, err)
	}
	if m.opts.DryRun || projectIDPattern.MatchString(nameOrID) {
		return store.Entity{}, fmt.Errorf("project %s: %w", nameOrID, store.ErrNotFound)
	}

	project, err = m.store.CreateProject(ctx, nameOrID)
	if errors.Is(err, store.ErrAlreadyExists) {
		// created by someone else since the lookup
		if project, err = m.store.FindProject(ctx, nameOrID); err != nil {
			return store.Entity{}, err
		}
		return m.writable(ctx, project)
	}
	if err != nil {
		return store.Entity{}, fmt.Errorf("failed to create project %s: %w", nameOrID, err)
	}
	logger.Log.Info("project created", zap.String("id", project.ID), zap.String("name", project.Name))

	if m.opts.StorageLocationID != "" {
		if err := m.store.SetStorageLocation(ctx, project.ID, m.opts.StorageLocationID); err != nil {
			logger.Log.Warn("failed to set storage location", zap.String("project", project.ID), zap.Error(err))
		}
	}
	if m.opts.AdminTeamID != "" {
		if err := m.store.GrantAdmin(ctx, project.ID, m.opts.AdminTeamID); err != nil {
			logger.Log.Warn("failed to grant admin access", zap.String("project", project.ID), zap.Error(err))
		}
	}

	return project, nil
}

// writable rejects an existing project the user cannot write to, so the
// repository fails once instead of once per file.
func (m *Migrator) writable(ctx context.Context, project store.Entity) (store.Entity, error) {
	if err := m.store.CheckWriteAccess(ctx, project.ID); err != nil {
		return store.Entity{}, fmt.Errorf("project %s (%s) is not writable: %w", project.Name, project.ID, err)
	}
	return project, nil
}

// checkSettings confirms the admin team and storage location once, before any
// repository is touched.
func (m *Migrator) checkSettings(ctx context.Context) error {
	checks := []struct {
		what  string
		id    string
		check func(context.Context, string) error
	}{
		{"admin team", m.opts.AdminTeamID, m.store.CheckTeam},
		{"storage location", m.opts.StorageLocationID, m.store.CheckStorageLocation},
	}

	for _, c := range checks {
		if c.id == "" {
			continue
		}

		err := c.check(ctx, c.id)
		switch {
		case errors.Is(err, store.ErrUnsupported):
			logger.Log.Warn("setting not supported by this store, ignoring", zap.String("setting", c.what), zap.String("id", c.id))
		case err != nil:
			return fmt.Errorf("%s %s: %w", c.what, c.id, err)
		}
	}

	return nil
}

func (m *Migrator) record(summary *Summary) {
	if m.runs == nil {
		return
	}

	run := &model.Run{
		RunID:      summary.RunID,
		Manifest:   m.opts.Manifest,
		Store:      m.opts.Store,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
	}
	if m.opts.DryRun {
		run.Store += " (dry run)"
	}

	for i, o := range summary.Outcomes {
		row := model.RepoOutcome{
			RunID:       summary.RunID,
			Position:    i,
			URL:         o.Entry.URL,
			GitFolder:   o.Entry.GitFolder,
			ProjectName: o.ProjectName,
			ProjectID:   o.ProjectID,
			Status:      o.Status,
		}
		if o.Report != nil {
			row.Synced = o.Report.Synced
			row.Skipped = o.Report.Skipped
			row.Failed = o.Report.Failed
			row.Ignored = o.Report.Ignored
			row.Bytes = o.Report.Bytes
		}
		if o.Err != nil {
			row.ErrMsg = o.Err.Error()
		}
		run.Outcomes = append(run.Outcomes, row)
	}

	if err := m.runs.Save(run); err != nil {
		logger.Log.Error("failed to save run history", zap.String("run_id", summary.RunID), zap.Error(err))
	}
}
