package cmd

import (
	"context"
	"os"
	"os/signal"
	"synmigrate/internal/db"
	"synmigrate/internal/logger"
	"synmigrate/internal/repository"
	"synmigrate/internal/server"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run history over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.ServeAddr = serveAddr
		}

		srv := server.New(
			repository.NewRunRepository(db.DB),
			repository.NewFingerprintRepository(db.DB),
			cfg.ServeAddr,
		)
		srv.Start()

		logger.Log.Info("history server ready", zap.String("addr", cfg.ServeAddr))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		var serveErr error
		select {
		case sig := <-sigCh:
			logger.Log.Info("shutting down", zap.String("signal", sig.String()))
		case serveErr = <-srv.ErrCh():
			logger.Log.Error("server stopped", zap.Error(serveErr))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			return err
		}

		return serveErr
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
