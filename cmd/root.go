package cmd

import (
	"fmt"
	"net"
	"os"
	"synmigrate/internal/config"
	"synmigrate/internal/db"
	"synmigrate/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg      *config.Config
	debug    bool
	logLevel string
)

// commands that write the run log file
var runCmds = map[string]bool{
	"migrate": true, "report": true, "watch": true,
}

var rootCmd = &cobra.Command{
	Use:   "synmigrate",
	Short: "Incrementally migrate git repositories into Synapse projects",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}

		logFile := ""
		if runCmds[cmd.Name()] {
			logFile = cfg.LogFile
		}
		if err := logger.Init(level, debug, logFile); err != nil {
			return err
		}

		if cmd.Name() != "status" {
			if err := db.Init(cfg.DBPath); err != nil {
				return err
			}
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		logger.Sync()
		return db.Close()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serverURL points at the API started by serve.
func serverURL(path string) string {
	host, port, err := net.SplitHostPort(cfg.ServeAddr)
	if err != nil {
		return "http://" + cfg.ServeAddr + path
	}
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(host, port), path)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
