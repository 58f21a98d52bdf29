package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"synmigrate/internal/repository"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View totals from a running history server",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(serverURL("/status"))
		if err != nil {
			return fmt.Errorf("history server not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("history server returned %s", resp.Status)
		}

		var result struct {
			Stats repository.Stats `json:"stats"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		fmt.Printf("%-8s %-8s %-8s %s\n", "RUNS", "REPOS", "FAILED", "PARTIAL")
		stats := result.Stats
		fmt.Printf("%-8d %-8d %-8d %d\n", stats.Runs, stats.Repos, stats.Failed, stats.Partial)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
