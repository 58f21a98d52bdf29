package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"synmigrate/internal/logger"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <manifest.csv>",
	Short: "Migrate, then migrate again whenever the manifest changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd, args[0], false)
		if err != nil {
			return err
		}
		defer s.close()

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer func() {
			_ = watcher.Close()
		}()

		// editors replace files on save, so the directory is watched
		if err := watcher.Add(filepath.Dir(s.manifest)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", s.manifest, err)
		}

		migrate := func() error {
			summary, err := s.run(ctx)
			printSummary(cmd.OutOrStdout(), summary, false)
			if errors.Is(err, context.Canceled) {
				return err
			}
			if err != nil {
				logger.Log.Error("migration failed", zap.Error(err))
			}
			return nil
		}

		if err := migrate(); err != nil {
			return nil
		}

		logger.Log.Info("watching manifest", zap.String("path", s.manifest))

		timer := time.NewTimer(watchDebounce)
		timer.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Log.Info("shutting down")
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != s.manifest {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				logger.Log.Debug("manifest changed", zap.String("op", event.Op.String()))
				timer.Reset(watchDebounce)

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Log.Warn("watcher error", zap.Error(err))

			case <-timer.C:
				logger.Log.Info("manifest changed, migrating again")
				if err := migrate(); err != nil {
					return nil
				}
			}
		}
	},
}

func init() {
	addMigrateFlags(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "quiet period after a manifest change before migrating")
	rootCmd.AddCommand(watchCmd)
}
