package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"synmigrate/internal/config"
	"synmigrate/internal/db"
	"synmigrate/internal/fingerprint"
	"synmigrate/internal/gitrepo"
	"synmigrate/internal/logger"
	"synmigrate/internal/manifest"
	"synmigrate/internal/migrator"
	"synmigrate/internal/repository"
	"synmigrate/internal/store"
	"synmigrate/internal/store/gdrive"
	"synmigrate/internal/store/synapse"
	"synmigrate/internal/syncer"
	"synmigrate/internal/workspace"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type migrateFlags struct {
	username          string
	password          string
	authToken         string
	skipHashChecks    bool
	adminTeamID       string
	storageLocationID string
	threads           int
	workDir           string
	store             string
}

var migrateOpts migrateFlags

var migrateCmd = &cobra.Command{
	Use:   "migrate <manifest.csv>",
	Short: "Migrate every repository listed in the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd, args[0], false)
		if err != nil {
			return err
		}
		defer s.close()

		summary, err := s.run(ctx)
		printSummary(cmd.OutOrStdout(), summary, false)
		return err
	},
}

// addMigrateFlags registers the flags shared by migrate, report and watch.
func addMigrateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&migrateOpts.username, "username", "u", "", "Synapse username")
	f.StringVarP(&migrateOpts.password, "password", "p", "", "Synapse password (prompted when missing on a terminal)")
	f.StringVar(&migrateOpts.authToken, "auth-token", "", "Synapse personal access token, used instead of username and password")
	f.BoolVar(&migrateOpts.skipHashChecks, "skip-hash-checks", false, "re-upload every file regardless of recorded fingerprints")
	f.StringVarP(&migrateOpts.adminTeamID, "admin-team-id", "a", "", "team granted admin access on created projects")
	f.StringVarP(&migrateOpts.storageLocationID, "storage-location-id", "s", "", "storage location set on created projects")
	f.IntVarP(&migrateOpts.threads, "threads", "t", 1, "concurrent file uploads per repository")
	f.StringVarP(&migrateOpts.workDir, "work-dir", "w", "", "directory repositories are cloned into")
	f.StringVar(&migrateOpts.store, "store", "", "destination backend (synapse, gdrive)")
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	f := cmd.Flags()
	if f.Changed("username") {
		c.Synapse.Username = migrateOpts.username
	}
	if f.Changed("password") {
		c.Synapse.Password = migrateOpts.password
	}
	if f.Changed("auth-token") {
		c.Synapse.AuthToken = migrateOpts.authToken
	}
	if f.Changed("skip-hash-checks") {
		c.SkipHashChecks = migrateOpts.skipHashChecks
	}
	if f.Changed("admin-team-id") {
		c.AdminTeamID = migrateOpts.adminTeamID
	}
	if f.Changed("storage-location-id") {
		c.StorageLocationID = migrateOpts.storageLocationID
	}
	if f.Changed("threads") {
		c.Threads = migrateOpts.threads
	}
	if f.Changed("work-dir") {
		c.WorkDir = migrateOpts.workDir
	}
	if f.Changed("store") {
		c.Store = migrateOpts.store
	}

	return c.Validate()
}

type session struct {
	manifest string
	ws       *workspace.Workspace
	migrator *migrator.Migrator
}

// openSession validates the manifest path, locks the workspace and logs in
// to the destination store.
func openSession(ctx context.Context, cmd *cobra.Command, manifestPath string, dryRun bool) (*session, error) {
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}

	path, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot read manifest: %w", err)
	}

	ws, err := workspace.New(cfg.WorkDir, cfg.Dir)
	if err != nil {
		return nil, err
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}

	dest, err := openStore(ctx, cfg)
	if err != nil {
		_ = ws.Unlock()
		return nil, err
	}

	fps := fingerprint.NewStore(repository.NewFingerprintRepository(db.DB), cfg.SkipHashChecks)
	driver := syncer.NewDriver(dest, fps, syncer.Options{
		Threads:        cfg.Threads,
		SkipEmptyFiles: cfg.SkipEmptyFiles,
		IgnoreList:     cfg.IgnoreList,
	})

	m := migrator.New(dest, gitrepo.NewGoGit(cfg.GitToken), driver, repository.NewRunRepository(db.DB), migrator.Options{
		WorkDir:           ws.WorkDir,
		ProjectPrefix:     cfg.ProjectPrefix,
		AdminTeamID:       cfg.AdminTeamID,
		StorageLocationID: cfg.StorageLocationID,
		Manifest:          path,
		Store:             cfg.Store,
		DryRun:            dryRun,
	})

	return &session{manifest: path, ws: ws, migrator: m}, nil
}

func (s *session) run(ctx context.Context) (*migrator.Summary, error) {
	r, err := manifest.Open(s.manifest)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()

	return s.migrator.Run(ctx, r.Entries())
}

func (s *session) close() {
	if err := s.ws.Unlock(); err != nil {
		logger.Log.Warn("failed to release workspace", zap.Error(err))
	}
}

func openStore(ctx context.Context, c *config.Config) (store.ProjectStore, error) {
	var (
		dest  store.ProjectStore
		creds store.Credentials
	)

	switch c.Store {
	case config.StoreGDrive:
		s, err := gdrive.Open(ctx, c.Dir)
		if err != nil {
			return nil, err
		}
		dest = s
	default:
		dest = synapse.New(synapse.Options{
			AuthEndpoint:      c.Synapse.AuthEndpoint,
			RepoEndpoint:      c.Synapse.RepoEndpoint,
			FileEndpoint:      c.Synapse.FileEndpoint,
			RetryCount:        c.Synapse.RetryCount,
			StorageLocationID: c.StorageLocationID,
		})

		password, err := promptPassword(c.Synapse)
		if err != nil {
			return nil, err
		}
		creds = store.Credentials{
			Username:  c.Synapse.Username,
			Password:  password,
			AuthToken: c.Synapse.AuthToken,
		}
	}

	if err := dest.Login(ctx, creds); err != nil {
		return nil, err
	}

	return dest, nil
}

// promptPassword asks for the password on an interactive terminal when a
// username is set without password or token.
func promptPassword(sc config.SynapseConfig) (string, error) {
	if sc.Password != "" || sc.AuthToken != "" || sc.Username == "" {
		return sc.Password, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}

	_, _ = fmt.Fprintf(os.Stderr, "Synapse password for %s: ", sc.Username)
	b, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return string(b), nil
}

func init() {
	addMigrateFlags(migrateCmd)
	rootCmd.AddCommand(migrateCmd)
}
