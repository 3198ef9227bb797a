// Package mcp exposes the review pipeline as MCP tools so an agent operator
// can browse the queue, approve or reject drafts, and trigger syncs.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reviewpilot/rp/internal/approval"
	"github.com/reviewpilot/rp/internal/models"
	"github.com/reviewpilot/rp/internal/store"
	"github.com/reviewpilot/rp/internal/sync"
)

// Server wraps the rp data layer and exposes it as MCP tools.
type Server struct {
	store        store.Store
	orchestrator *sync.Orchestrator
	approvals    *approval.Service
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, orch *sync.Orchestrator, approvals *approval.Service) *Server {
	return &Server{
		store:        s,
		orchestrator: orch,
		approvals:    approvals,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("rp", "1.0.0", server.WithToolCapabilities(true))

	// Register all tools
	srv.AddTool(s.runSyncTool())
	srv.AddTool(s.listReviewsTool())
	srv.AddTool(s.listResponsesTool())
	srv.AddTool(s.approveResponseTool())
	srv.AddTool(s.rejectResponseTool())
	srv.AddTool(s.listPoliciesTool())
	srv.AddTool(s.recentRunsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// rp_run_sync
func (s *Server) runSyncTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rp_run_sync",
		mcp.WithDescription("Sync reviews from the source and draft replies. Dry-run by default; set auto_reply to send replies immediately."),
		mcp.WithBoolean("auto_reply", mcp.Description("Send generated replies instead of queueing them")),
		mcp.WithBoolean("dry_run", mcp.DefaultBool(true), mcp.Description("Generate drafts without persisting attempts")),
		mcp.WithNumber("limit", mcp.Description("Maximum reviews to process in this run (default 20)")),
		mcp.WithString("since", mcp.Description("Only fetch reviews created after this RFC3339 timestamp")),
	)
	return tool, s.handleRunSync
}

func (s *Server) handleRunSync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := sync.Options{
		JobName:   "mcp_sync",
		AutoReply: request.GetBool("auto_reply", false),
		DryRun:    request.GetBool("dry_run", true),
		Limit:     request.GetInt("limit", 0),
	}
	if v := request.GetString("since", ""); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since timestamp: %v", err)), nil
		}
		opts.Since = since
	}

	summary, err := s.orchestrator.Run(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync run failed: %v", err)), nil
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// rp_list_reviews
func (s *Server) listReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rp_list_reviews",
		mcp.WithDescription("List synced reviews. Returns a JSON array with id, source id, author, rating, text, and response status."),
		mcp.WithNumber("stars", mcp.Description("Filter by star rating (1-5)")),
		mcp.WithNumber("limit", mcp.Description("Maximum reviews to return (default 50)")),
	)
	return tool, s.handleListReviews
}

func (s *Server) handleListReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviews, err := s.store.ListReviews(ctx, store.ReviewListFilter{
		Rating: request.GetInt("stars", 0),
		Limit:  request.GetInt("limit", 50),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviews: %v", err)), nil
	}

	type reviewOut struct {
		ID          string     `json:"id"`
		SourceID    string     `json:"sourceId"`
		AuthorName  string     `json:"authorName"`
		Rating      int        `json:"rating"`
		Title       string     `json:"title,omitempty"`
		Text        string     `json:"text"`
		CreatedAt   time.Time  `json:"createdAt"`
		RespondedAt *time.Time `json:"respondedAt,omitempty"`
	}

	out := make([]reviewOut, len(reviews))
	for i, r := range reviews {
		out[i] = reviewOut{
			ID:          r.ID,
			SourceID:    r.SourceID,
			AuthorName:  r.AuthorName,
			Rating:      r.Rating,
			Title:       r.Title,
			Text:        r.Text,
			CreatedAt:   r.CreatedAt,
			RespondedAt: r.RespondedAt,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal reviews: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// rp_list_responses
func (s *Server) listResponsesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rp_list_responses",
		mcp.WithDescription("List response attempts in the approval queue. Filter by status: pending, sent, failed, manual."),
		mcp.WithString("status", mcp.Description("Attempt status filter")),
	)
	return tool, s.handleListResponses
}

func (s *Server) handleListResponses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := models.AttemptStatus(request.GetString("status", ""))
	queued, err := s.approvals.List(ctx, status, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list responses: %v", err)), nil
	}

	type responseOut struct {
		ID            string `json:"id"`
		ReviewID      string `json:"reviewId"`
		Status        string `json:"status"`
		Text          string `json:"text"`
		FailureReason string `json:"failureReason,omitempty"`
		AuthorName    string `json:"authorName"`
		Rating        int    `json:"rating"`
		ReviewText    string `json:"reviewText"`
	}

	out := make([]responseOut, len(queued))
	for i, q := range queued {
		out[i] = responseOut{
			ID:            q.Attempt.ID,
			ReviewID:      q.Attempt.ReviewID,
			Status:        string(q.Attempt.Status),
			Text:          q.Attempt.Text,
			FailureReason: q.Attempt.FailureReason,
			AuthorName:    q.Review.AuthorName,
			Rating:        q.Review.Rating,
			ReviewText:    q.Review.Text,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal responses: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// rp_approve_response
func (s *Server) approveResponseTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rp_approve_response",
		mcp.WithDescription("Approve a queued response attempt and send it to the review source. Optionally replace the draft text first."),
		mcp.WithString("attempt_id", mcp.Required(), mcp.Description("Response attempt id")),
		mcp.WithString("edited_text", mcp.Description("Replacement reply text; omit to send the draft as generated")),
	)
	return tool, s.handleApproveResponse
}

func (s *Server) handleApproveResponse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	attemptID, err := request.RequireString("attempt_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: attempt_id"), nil
	}

	attempt, err := s.approvals.Approve(ctx, attemptID, request.GetString("edited_text", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("approve failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("response %s sent at %s", attempt.ID, attempt.SentAt.Format(time.RFC3339))), nil
}

// rp_reject_response
func (s *Server) rejectResponseTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rp_reject_response",
		mcp.WithDescription("Reject a queued response attempt. The review is marked as handled manually and will not be drafted again."),
		mcp.WithString("attempt_id", mcp.Required(), mcp.Description("Response attempt id")),
	)
	return tool, s.handleRejectResponse
}

func (s *Server) handleRejectResponse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	attemptID, err := request.RequireString("attempt_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: attempt_id"), nil
	}

	if err := s.approvals.Reject(ctx, attemptID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reject failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("response %s rejected", attemptID)), nil
}

// rp_list_policies
func (s *Server) listPoliciesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rp_list_policies",
		mcp.WithDescription("List response policies with their rating ranges, tones, and priorities."),
	)
	return tool, s.handleListPolicies
}

func (s *Server) handleListPolicies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	policies, err := s.store.ListPolicies(ctx, false)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list policies: %v", err)), nil
	}

	data, err := json.Marshal(policies)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal policies: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// rp_recent_runs
func (s *Server) recentRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rp_recent_runs",
		mcp.WithDescription("Show the most recent sync runs with status and counts."),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
	)
	return tool, s.handleRecentRuns
}

func (s *Server) handleRecentRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.store.ListRuns(ctx, request.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	data, err := json.Marshal(runs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal runs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
