package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reviewpilot/rp/internal/output"
	"github.com/reviewpilot/rp/internal/sync"
)

var (
	syncAutoReply bool
	syncLimit     int
	syncStars     int
	syncSince     string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync reviews and generate reply drafts",
	Long: `Fetch recent reviews from Trustpilot, merge them into the local ledger,
and generate an AI reply draft for each new review.

By default drafts are queued for approval (see 'rp response'). With
--auto-reply they are sent immediately. With --dry-run (global flag)
drafts are previewed without persisting anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncRun()
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncAutoReply, "auto-reply", false, "Send generated replies instead of queueing them")
	syncCmd.Flags().IntVar(&syncLimit, "limit", 0, "Maximum reviews to process (default from config)")
	syncCmd.Flags().IntVar(&syncStars, "stars", 0, "Only process reviews with this star rating")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "Only fetch reviews created after this time (2026-01-31 or RFC3339)")
	rootCmd.AddCommand(syncCmd)
}

func syncRun() error {
	orch, err := getOrchestrator()
	if err != nil {
		return err
	}

	limit := syncLimit
	if limit <= 0 {
		limit = viper.GetInt("sync.limit")
	}

	since, err := parseSince(syncSince)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Previewing drafts without persisting attempts")
	}

	summary, err := orch.Run(context.Background(), sync.Options{
		JobName:   "manual_sync",
		AutoReply: syncAutoReply,
		DryRun:    dryRun,
		Limit:     limit,
		Stars:     syncStars,
		Since:     since,
	})
	if err != nil {
		if summary != nil && summary.RunID != "" {
			ui.Error("Sync failed (run %s): %v", summary.RunID, err)
		}
		return err
	}

	table := ui.Table([]string{"REVIEW", "AUTHOR", "RATING", "OUTCOME"})
	for _, r := range summary.Results {
		outcome := "queued"
		switch {
		case r.Error != "":
			outcome = output.Red("error: " + r.Error)
		case r.Skipped:
			outcome = output.Yellow("skipped: " + r.SkipReason)
		case r.Responded:
			outcome = output.Green("sent")
		case summary.DryRun:
			outcome = output.Cyan("preview")
		}
		_ = table.Append([]string{r.SourceID, r.AuthorName, output.RatingColor(r.Rating), outcome})
	}
	if len(summary.Results) > 0 {
		_ = table.Render()
		fmt.Fprintln(ui.Out)
	}

	ui.Success("Processed %d reviews, sent %d replies (run %s)",
		summary.ReviewsProcessed, summary.ResponsesSent, summary.RunID)

	if summary.DryRun {
		for _, r := range summary.Results {
			if r.Response == "" {
				continue
			}
			fmt.Fprintln(ui.Out)
			ui.Info("Draft for %s (%s):", r.SourceID, r.AuthorName)
			fmt.Fprintln(ui.Out, r.Response)
		}
	}
	return nil
}

// parseSince accepts a plain date or an RFC3339 timestamp.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since value %q (want 2026-01-31 or RFC3339)", s)
	}
	return t, nil
}
