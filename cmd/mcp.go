package cmd

import (
	"github.com/spf13/cobra"

	"github.com/reviewpilot/rp/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP-capable assistant drive syncs and the approval queue
directly. Configure with:

  {
    "mcpServers": {
      "rp": { "command": "rp", "args": ["mcp"] }
    }
  }

Available tools: rp_run_sync, rp_list_reviews, rp_list_responses,
rp_approve_response, rp_reject_response, rp_list_policies, rp_recent_runs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		orch, err := getOrchestrator()
		if err != nil {
			return err
		}
		approvals, err := getApprovals()
		if err != nil {
			return err
		}

		return mcp.NewServer(s, orch, approvals).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
