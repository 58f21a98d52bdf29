package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <manifest.csv>",
	Short: "Show what a migration would upload without changing anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd, args[0], true)
		if err != nil {
			return err
		}
		defer s.close()

		summary, err := s.run(ctx)
		printSummary(cmd.OutOrStdout(), summary, true)
		return err
	},
}

func init() {
	addMigrateFlags(reportCmd)
	rootCmd.AddCommand(reportCmd)
}
