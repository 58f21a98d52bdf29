package cmd

import (
	"fmt"
	"synmigrate/internal/db"
	"synmigrate/internal/model"
	"synmigrate/internal/repository"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyN       int
	historyVerbose bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent migration runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := repository.NewRunRepository(db.DB).GetRecent(historyN)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("no runs yet")
			return nil
		}

		for _, run := range runs {
			var failed int
			for _, o := range run.Outcomes {
				if o.Status != model.RepoStatusSuccess {
					failed++
				}
			}

			fmt.Printf("%s [%s] %-8s %d repos, %d not clean, %s\n",
				run.RunID,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Store,
				len(run.Outcomes),
				failed,
				humanize.Time(run.StartedAt),
			)

			if !historyVerbose {
				continue
			}
			for _, o := range run.Outcomes {
				fmt.Printf("    %s %s -> %s (%s) synced %d, skipped %d, failed %d, %s\n",
					statusMark(o.Status), o.URL, o.ProjectName, o.ProjectID,
					o.Synced, o.Skipped, o.Failed, humanize.Bytes(uint64(max(o.Bytes, 0))))
				if o.ErrMsg != "" {
					fmt.Printf("      %s\n", o.ErrMsg)
				}
			}
		}

		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of runs to show")
	historyCmd.Flags().BoolVarP(&historyVerbose, "verbose", "v", false, "show every repository of each run")
	rootCmd.AddCommand(historyCmd)
}
