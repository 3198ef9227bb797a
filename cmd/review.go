package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reviewpilot/rp/internal/output"
	"github.com/reviewpilot/rp/internal/store"
)

var (
	reviewStars     int
	reviewLimit     int
	reviewResponded string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Browse synced reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewListRun()
	},
}

var reviewListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List synced reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewListRun()
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Show review details and its response attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(args[0])
	},
}

func init() {
	reviewListCmd.Flags().IntVar(&reviewStars, "stars", 0, "Filter by star rating (1-5)")
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 50, "Maximum reviews to show")
	reviewListCmd.Flags().StringVar(&reviewResponded, "responded", "", "Filter by response state: true, false")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.ReviewListFilter{Rating: reviewStars, Limit: reviewLimit}
	if reviewResponded != "" {
		responded := reviewResponded == "true"
		filter.Responded = &responded
	}

	reviews, err := s.ListReviews(ctx, filter)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		ui.Info("No reviews synced yet (run 'rp sync')")
		return nil
	}

	table := ui.Table([]string{"ID", "AUTHOR", "RATING", "RESPONDED", "TEXT"})
	for _, r := range reviews {
		responded := "-"
		if r.Responded() {
			responded = output.Green(r.RespondedAt.Format("2006-01-02"))
		}
		_ = table.Append([]string{r.ID, r.AuthorName, output.RatingColor(r.Rating), responded, truncate(r.Text, 60)})
	}
	return table.Render()
}

func reviewShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := s.GetReview(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(r.ID), output.RatingColor(r.Rating))
	fmt.Fprintf(ui.Out, "Source:   %s\n", r.SourceID)
	fmt.Fprintf(ui.Out, "Author:   %s\n", r.AuthorName)
	if r.Title != "" {
		fmt.Fprintf(ui.Out, "Title:    %s\n", r.Title)
	}
	fmt.Fprintf(ui.Out, "Created:  %s\n", r.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(ui.Out, "Seen:     %s\n", r.FirstSeenAt.Format("2006-01-02 15:04"))
	if r.Responded() {
		fmt.Fprintf(ui.Out, "Replied:  %s\n", output.Green(r.RespondedAt.Format("2006-01-02 15:04")))
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, r.Text)

	attempts, err := s.ListAttempts(ctx, store.AttemptListFilter{ReviewID: r.ID})
	if err != nil {
		return err
	}
	if len(attempts) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"ATTEMPT", "STATUS", "CREATED", "TEXT"})
		for _, a := range attempts {
			_ = table.Append([]string{a.ID, output.StatusColor(string(a.Status)), a.CreatedAt.Format("2006-01-02 15:04"), truncate(a.Text, 50)})
		}
		return table.Render()
	}
	return nil
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
