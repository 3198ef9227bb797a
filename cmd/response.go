package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reviewpilot/rp/internal/models"
	"github.com/reviewpilot/rp/internal/output"
)

var (
	responseStatus string
	responseLimit  int
	responseText   string
)

var responseCmd = &cobra.Command{
	Use:   "response",
	Short: "Review and approve drafted responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		return responseListRun()
	},
}

var responseListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List drafted responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		return responseListRun()
	},
}

var responseShowCmd = &cobra.Command{
	Use:   "show <attempt-id>",
	Short: "Show a drafted response in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return responseShowRun(args[0])
	},
}

var responseApproveCmd = &cobra.Command{
	Use:   "approve <attempt-id>",
	Short: "Approve a draft and send it to Trustpilot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return responseApproveRun(args[0])
	},
	Args: cobra.ExactArgs(1),
}

var responseRejectCmd = &cobra.Command{
	Use:   "reject <attempt-id>",
	Short: "Reject a draft and mark the review for manual handling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return responseRejectRun(args[0])
	},
}

func init() {
	responseListCmd.Flags().StringVar(&responseStatus, "status", "pending", "Filter by status: pending, sent, failed, manual (empty for all)")
	responseListCmd.Flags().IntVar(&responseLimit, "limit", 50, "Maximum responses to list")
	responseApproveCmd.Flags().StringVar(&responseText, "text", "", "Replace the draft text before sending")

	responseCmd.AddCommand(responseListCmd)
	responseCmd.AddCommand(responseShowCmd)
	responseCmd.AddCommand(responseApproveCmd)
	responseCmd.AddCommand(responseRejectCmd)
	rootCmd.AddCommand(responseCmd)
}

func responseListRun() error {
	svc, err := getApprovals()
	if err != nil {
		return err
	}

	queued, err := svc.List(context.Background(), models.AttemptStatus(responseStatus), responseLimit)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		ui.Info("No responses found")
		return nil
	}

	table := ui.Table([]string{"ID", "REVIEW", "RATING", "STATUS", "DRAFT", "CREATED"})
	for _, q := range queued {
		author := "(anonymous)"
		rating := ""
		if q.Review != nil {
			author = q.Review.AuthorName
			rating = output.RatingColor(q.Review.Rating)
		}
		_ = table.Append([]string{
			q.Attempt.ID, author, rating,
			output.StatusColor(string(q.Attempt.Status)),
			truncate(q.Attempt.Text, 60),
			q.Attempt.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

func responseShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	attempt, err := s.GetAttempt(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Attempt:  %s\n", attempt.ID)
	fmt.Fprintf(ui.Out, "Status:   %s\n", output.StatusColor(string(attempt.Status)))
	fmt.Fprintf(ui.Out, "Created:  %s\n", attempt.CreatedAt.Format("2006-01-02 15:04:05"))
	if attempt.SentAt != nil {
		fmt.Fprintf(ui.Out, "Sent:     %s\n", attempt.SentAt.Format("2006-01-02 15:04:05"))
	}
	if attempt.FailureReason != "" {
		fmt.Fprintf(ui.Out, "Failure:  %s\n", output.Red(attempt.FailureReason))
	}

	review, err := s.GetReview(ctx, attempt.ReviewID)
	if err == nil {
		fmt.Fprintf(ui.Out, "\nReview by %s (%s):\n%s\n", review.AuthorName, output.RatingColor(review.Rating), review.Text)
	}

	fmt.Fprintf(ui.Out, "\nDraft:\n%s\n", attempt.Text)
	return nil
}

func responseApproveRun(id string) error {
	svc, err := getApprovals()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would approve and send response %s", id)
		return nil
	}

	attempt, err := svc.Approve(context.Background(), id, responseText)
	if err != nil {
		return err
	}
	ui.Success("Response sent for review %s", attempt.ReviewID)
	return nil
}

func responseRejectRun(id string) error {
	svc, err := getApprovals()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would reject response %s", id)
		return nil
	}

	if err := svc.Reject(context.Background(), id); err != nil {
		return err
	}
	ui.Success("Response rejected: %s", id)
	return nil
}
