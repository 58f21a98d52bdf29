package cmd

import (
	"fmt"
	"os"
	"synmigrate/internal/store/gdrive"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication for destination stores",
}

var authGDriveCmd = &cobra.Command{
	Use:   "gdrive",
	Short: "Authenticate with Google Drive",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := gdrive.Authorize(cmd.Context(), cfg.Dir, os.Stdin, os.Stdout); err != nil {
			return err
		}

		fmt.Println("Authenticated with Google Drive")
		return nil
	},
}

func init() {
	authCmd.AddCommand(authGDriveCmd)
	rootCmd.AddCommand(authCmd)
}
