package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reviewpilot/rp/internal/output"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show sync run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsRun()
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to show")
	rootCmd.AddCommand(runsCmd)
}

func runsRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	runs, err := s.ListRuns(context.Background(), runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No sync runs recorded")
		return nil
	}

	table := ui.Table([]string{"ID", "JOB", "STATUS", "STARTED", "DURATION", "PROCESSED", "SENT", "ERROR"})
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.Duration().Round(10 * time.Millisecond).String()
		}
		_ = table.Append([]string{
			r.ID, r.JobName,
			output.StatusColor(string(r.Status)),
			r.StartedAt.Format("2006-01-02 15:04"),
			duration,
			fmt.Sprintf("%d", r.ReviewsProcessed),
			fmt.Sprintf("%d", r.ResponsesSent),
			truncate(r.ErrorMessage, 40),
		})
	}
	return table.Render()
}
