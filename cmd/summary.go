package cmd

import (
	"fmt"
	"io"
	"synmigrate/internal/migrator"
	"synmigrate/internal/model"
	"synmigrate/internal/syncer"
	"time"

	"github.com/dustin/go-humanize"
)

func statusMark(status model.RepoStatus) string {
	switch status {
	case model.RepoStatusSuccess:
		return "✓"
	case model.RepoStatusPartial:
		return "~"
	default:
		return "✗"
	}
}

func printSummary(w io.Writer, s *migrator.Summary, dryRun bool) {
	if s == nil {
		return
	}

	_, _ = fmt.Fprintln(w)
	for _, o := range s.Outcomes {
		_, _ = fmt.Fprintf(w, "%s %s\n", statusMark(o.Status), o.Mapping())

		r := o.Report
		switch {
		case r == nil:
		case dryRun:
			_, _ = fmt.Fprintf(w, "    new %d, changed %d, unchanged %d, ignored %d\n",
				r.New, r.Changed, r.Skipped, r.Ignored)
			printPlannedFiles(w, r)
		default:
			_, _ = fmt.Fprintf(w, "    synced %d (%s), skipped %d, failed %d, ignored %d in %s\n",
				r.Synced, humanize.Bytes(uint64(max(r.Bytes, 0))), r.Skipped, r.Failed, r.Ignored,
				r.Duration.Round(time.Millisecond))
			for _, f := range r.Failures() {
				_, _ = fmt.Fprintf(w, "    ✗ %s: %v\n", f.Path, f.Err)
			}
		}

		if c := o.Containers; c.Lookups+c.Creates+c.Hits > 0 {
			_, _ = fmt.Fprintf(w, "    folders: %d looked up, %d created, %d cache hits\n", c.Lookups, c.Creates, c.Hits)
		}

		if o.Err != nil {
			_, _ = fmt.Fprintf(w, "    error: %v\n", o.Err)
		}
	}

	for _, warn := range s.Warnings {
		_, _ = fmt.Fprintf(w, "! %v\n", warn)
	}

	failed := s.Failed()
	_, _ = fmt.Fprintf(w, "\n%s repositories, %d failed, %d manifest rows skipped, took %s (run %s)\n",
		humanize.Comma(int64(len(s.Outcomes))), len(failed), len(s.Warnings),
		s.FinishedAt.Sub(s.StartedAt).Round(time.Second), s.RunID)

	if len(failed) > 0 {
		_, _ = fmt.Fprintln(w, "\nfailed repositories:")
		for _, o := range failed {
			_, _ = fmt.Fprintf(w, "  %s: %v\n", o.Entry.URL, o.Err)
		}
	}
}

// printPlannedFiles lists the files a dry run would upload and the ones whose
// destination could not be resolved.
func printPlannedFiles(w io.Writer, r *syncer.Report) {
	for _, f := range r.Files {
		switch {
		case f.Err != nil:
			_, _ = fmt.Fprintf(w, "    ? %s: %v\n", f.Path, f.Err)
		case f.State == syncer.StateNew || f.State == syncer.StateChanged:
			_, _ = fmt.Fprintf(w, "    %-9s %s (%s)\n", f.State, f.Path, humanize.Bytes(uint64(max(f.Size, 0))))
		}
	}
}
