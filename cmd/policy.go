package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reviewpilot/rp/internal/models"
	"github.com/reviewpilot/rp/internal/output"
	"github.com/reviewpilot/rp/internal/policy"
)

var (
	policyName        string
	policyDesc        string
	policyMinRating   int
	policyMaxRating   int
	policyTone        string
	policyInstruction string
	policyDefault     bool
	policyPriority    int
	policyInactive    bool
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage response policies",
	Long:  "Manage the rating-range policies that choose tone and instruction for generated replies.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyListRun()
	},
}

var policyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyListRun()
	},
}

var policyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyAddRun()
	},
}

var policyUpdateCmd = &cobra.Command{
	Use:   "update <policy-id>",
	Short: "Update a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyUpdateRun(args[0], cmd)
	},
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete <policy-id>",
	Short: "Delete a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyDeleteRun(args[0])
	},
}

var policySeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the starter policy set",
	Long:  "Create the starter policies (positive, mixed, negative, and a catch-all default). Existing policies with the same names are left untouched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return policySeedRun()
	},
}

func init() {
	policyAddCmd.Flags().StringVar(&policyName, "name", "", "Policy name (required)")
	policyAddCmd.Flags().StringVar(&policyDesc, "desc", "", "Policy description")
	policyAddCmd.Flags().IntVar(&policyMinRating, "min", 1, "Minimum rating (inclusive)")
	policyAddCmd.Flags().IntVar(&policyMaxRating, "max", 5, "Maximum rating (inclusive)")
	policyAddCmd.Flags().StringVar(&policyTone, "tone", models.ToneProfessional, "Tone: professionale, amichevole, formale, empatico")
	policyAddCmd.Flags().StringVar(&policyInstruction, "instruction", "", "Custom instruction for the generator")
	policyAddCmd.Flags().BoolVar(&policyDefault, "default", false, "Mark as the default fallback policy")
	policyAddCmd.Flags().IntVar(&policyPriority, "priority", 0, "Priority (higher wins)")
	_ = policyAddCmd.MarkFlagRequired("name")

	policyUpdateCmd.Flags().StringVar(&policyName, "name", "", "New name")
	policyUpdateCmd.Flags().StringVar(&policyDesc, "desc", "", "New description")
	policyUpdateCmd.Flags().IntVar(&policyMinRating, "min", 0, "New minimum rating")
	policyUpdateCmd.Flags().IntVar(&policyMaxRating, "max", 0, "New maximum rating")
	policyUpdateCmd.Flags().StringVar(&policyTone, "tone", "", "New tone")
	policyUpdateCmd.Flags().StringVar(&policyInstruction, "instruction", "", "New instruction")
	policyUpdateCmd.Flags().BoolVar(&policyDefault, "default", false, "Mark as the default fallback policy")
	policyUpdateCmd.Flags().IntVar(&policyPriority, "priority", 0, "New priority")
	policyUpdateCmd.Flags().BoolVar(&policyInactive, "inactive", false, "Deactivate the policy")

	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyAddCmd)
	policyCmd.AddCommand(policyUpdateCmd)
	policyCmd.AddCommand(policyDeleteCmd)
	policyCmd.AddCommand(policySeedCmd)
	rootCmd.AddCommand(policyCmd)
}

func policyListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	policies, err := s.ListPolicies(context.Background(), false)
	if err != nil {
		return err
	}
	if len(policies) == 0 {
		ui.Info("No policies configured (run 'rp policy seed' for the starter set)")
		return nil
	}

	table := ui.Table([]string{"ID", "NAME", "RANGE", "TONE", "PRIORITY", "FLAGS"})
	for _, p := range policies {
		flags := ""
		if p.IsDefault {
			flags = output.Cyan("default")
		}
		if !p.IsActive {
			if flags != "" {
				flags += " "
			}
			flags += output.Red("inactive")
		}
		_ = table.Append([]string{
			p.ID, p.Name,
			fmt.Sprintf("%d-%d", p.MinRating, p.MaxRating),
			p.Tone, fmt.Sprintf("%d", p.Priority), flags,
		})
	}
	return table.Render()
}

func policyAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	p := &models.ResponsePolicy{
		Name:        policyName,
		Description: policyDesc,
		MinRating:   policyMinRating,
		MaxRating:   policyMaxRating,
		Tone:        policyTone,
		Instruction: policyInstruction,
		IsDefault:   policyDefault,
		IsActive:    true,
		Priority:    policyPriority,
	}

	if dryRun {
		ui.DryRunMsg("Would add policy: %s [%d-%d] tone=%s priority=%d", p.Name, p.MinRating, p.MaxRating, p.Tone, p.Priority)
		return nil
	}

	if err := s.CreatePolicy(context.Background(), p); err != nil {
		return err
	}
	ui.Success("Policy created: %s (%s)", p.Name, p.ID)
	return nil
}

func policyUpdateRun(id string, cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := s.GetPolicy(ctx, id)
	if err != nil {
		return err
	}

	if policyName != "" {
		p.Name = policyName
	}
	if policyDesc != "" {
		p.Description = policyDesc
	}
	if policyMinRating != 0 {
		p.MinRating = policyMinRating
	}
	if policyMaxRating != 0 {
		p.MaxRating = policyMaxRating
	}
	if policyTone != "" {
		p.Tone = policyTone
	}
	if policyInstruction != "" {
		p.Instruction = policyInstruction
	}
	if cmd.Flags().Changed("priority") {
		p.Priority = policyPriority
	}
	if policyDefault {
		p.IsDefault = true
	}
	if policyInactive {
		p.IsActive = false
	}

	if dryRun {
		ui.DryRunMsg("Would update policy %s", id)
		return nil
	}

	if err := s.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	ui.Success("Policy updated: %s", p.Name)
	return nil
}

func policyDeleteRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete policy %s", id)
		return nil
	}

	if err := s.DeletePolicy(context.Background(), id); err != nil {
		return err
	}
	ui.Success("Policy deleted: %s", id)
	return nil
}

func policySeedRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create %d starter policies", len(policy.DefaultPolicies()))
		return nil
	}

	created, err := policy.Seed(context.Background(), s)
	if err != nil {
		return err
	}
	ui.Success("Created %d policies", created)
	return nil
}
