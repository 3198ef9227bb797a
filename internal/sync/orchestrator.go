// Package sync implements the review synchronization pipeline: fetch a bounded
// batch of reviews from the source, merge them into the ledger, and for each
// new review generate a reply draft and either send it, queue it for approval,
// or skip it.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reviewpilot/rp/internal/models"
	"github.com/reviewpilot/rp/internal/policy"
	"github.com/reviewpilot/rp/internal/store"
	"github.com/reviewpilot/rp/internal/trustpilot"
)

// DefaultLimit bounds a run's batch when the caller does not set one.
const DefaultLimit = 20

// generateTimeout bounds a single draft-generation call so one stuck review
// cannot consume the whole run.
const generateTimeout = 90 * time.Second

// Source is the external review feed and outbound reply channel.
type Source interface {
	FetchReviews(ctx context.Context, opts trustpilot.FetchOptions) ([]*models.Review, error)
	SendReply(ctx context.Context, sourceID, message string) error
}

// Generator produces reply drafts.
type Generator interface {
	GenerateReply(ctx context.Context, review *models.Review, instruction, tone string) (string, error)
}

// Options configures a single run.
type Options struct {
	JobName   string // run-log job name, defaults to "manual_sync"
	AutoReply bool   // send replies instead of queueing them
	DryRun    bool   // generate drafts without persisting attempts
	Limit     int    // batch bound, defaults to DefaultLimit
	Stars     int    // 0 = all ratings
	Since     time.Time
}

// ReviewResult is the per-review outcome within a run.
type ReviewResult struct {
	ReviewID   string `json:"reviewId"`
	SourceID   string `json:"sourceId"`
	AuthorName string `json:"authorName,omitempty"`
	Rating     int    `json:"rating"`
	Responded  bool   `json:"responded"`
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skipReason,omitempty"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary reports a finished run. Counts are reported even when individual
// reviews failed.
type Summary struct {
	RunID            string         `json:"runId"`
	ReviewsProcessed int            `json:"reviewsProcessed"`
	ResponsesSent    int            `json:"responsesSent"`
	AutoReply        bool           `json:"autoReply"`
	DryRun           bool           `json:"dryRun"`
	Results          []ReviewResult `json:"results"`
}

// Orchestrator drives the per-review pipeline against the ledger.
type Orchestrator struct {
	store     store.Store
	source    Source
	generator Generator
}

// New creates an orchestrator.
func New(s store.Store, src Source, gen Generator) *Orchestrator {
	return &Orchestrator{store: s, source: src, generator: gen}
}

// Run executes one sync invocation. A RunRecord is created before any work
// and receives exactly one terminal update. Pre-loop errors (missing default
// policy, source fetch) fail the run before any review is processed;
// per-review errors are captured in the result list and never abort the loop.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.JobName == "" {
		opts.JobName = "manual_sync"
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	run := &models.RunRecord{JobName: opts.JobName}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	summary := &Summary{RunID: run.ID, AutoReply: opts.AutoReply, DryRun: opts.DryRun}

	policies, err := o.store.ListPolicies(ctx, true)
	if err != nil {
		return summary, o.fail(ctx, run.ID, summary, fmt.Errorf("load policies: %w", err))
	}
	// Every rating must resolve to a policy, so a missing default aborts the
	// run before anything is fetched or processed.
	if policy.Default(policies) == nil {
		return summary, o.fail(ctx, run.ID, summary, policy.ErrNoDefaultPolicy)
	}

	reviews, err := o.source.FetchReviews(ctx, trustpilot.FetchOptions{
		Stars: opts.Stars,
		Limit: opts.Limit,
		Since: opts.Since,
	})
	if err != nil {
		return summary, o.fail(ctx, run.ID, summary, fmt.Errorf("fetch reviews: %w", err))
	}

	for _, review := range reviews {
		// A run may be aborted between reviews; already-completed reviews
		// stay consistent since no transaction spans the loop.
		if err := ctx.Err(); err != nil {
			return summary, o.fail(ctx, run.ID, summary, err)
		}

		result, sent := o.processReview(ctx, policies, review, opts)
		summary.ReviewsProcessed++
		if sent {
			summary.ResponsesSent++
		}
		summary.Results = append(summary.Results, result)
	}

	if err := o.store.FinishRun(ctx, run.ID, models.RunStatusCompleted,
		summary.ReviewsProcessed, summary.ResponsesSent, ""); err != nil {
		return summary, err
	}
	return summary, nil
}

// fail applies the terminal failed update and returns the causing error. The
// update runs detached from the caller's context so an aborted run still gets
// its terminal state recorded.
func (o *Orchestrator) fail(ctx context.Context, runID string, summary *Summary, cause error) error {
	_ = o.store.FinishRun(context.WithoutCancel(ctx), runID, models.RunStatusFailed,
		summary.ReviewsProcessed, summary.ResponsesSent, cause.Error())
	return cause
}

// processReview runs the per-review pipeline. Errors are captured in the
// result, never returned; the second return reports whether a reply was sent.
func (o *Orchestrator) processReview(ctx context.Context, policies []*models.ResponsePolicy, review *models.Review, opts Options) (ReviewResult, bool) {
	result := ReviewResult{
		SourceID:   review.SourceID,
		AuthorName: review.AuthorName,
		Rating:     review.Rating,
	}

	// Upsert first so the review is visible and auditable even when a later
	// step fails.
	if err := o.store.UpsertReview(ctx, review); err != nil {
		result.Error = err.Error()
		return result, false
	}
	result.ReviewID = review.ID

	sent, err := o.store.HasSentResponse(ctx, review.ID)
	if err != nil {
		result.Error = err.Error()
		return result, false
	}
	if sent {
		result.Skipped = true
		result.SkipReason = "already responded"
		return result, false
	}

	if !opts.DryRun {
		skip, reason, err := o.alreadyQueued(ctx, review.ID)
		if err != nil {
			result.Error = err.Error()
			return result, false
		}
		if skip {
			result.Skipped = true
			result.SkipReason = reason
			return result, false
		}
	}

	pol, err := policy.Match(policies, review.Rating)
	if err != nil {
		result.Error = err.Error()
		return result, false
	}

	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	draft, err := o.generator.GenerateReply(genCtx, review, pol.Instruction, pol.Tone)
	cancel()
	if err != nil {
		result.Error = fmt.Sprintf("generate reply: %v", err)
		return result, false
	}
	result.Response = draft

	if opts.DryRun {
		return result, false
	}

	attempt := &models.ResponseAttempt{
		ReviewID: review.ID,
		PolicyID: &pol.ID,
		Text:     draft,
		Status:   models.AttemptStatusPending,
	}
	if err := o.store.CreateAttempt(ctx, attempt); err != nil {
		result.Error = err.Error()
		return result, false
	}

	if !opts.AutoReply {
		// Queued for human approval.
		return result, false
	}

	if err := o.source.SendReply(ctx, review.SourceID, draft); err != nil {
		if markErr := o.store.MarkAttemptFailed(ctx, attempt.ID, err.Error()); markErr != nil {
			result.Error = fmt.Sprintf("send reply: %v (record failure: %v)", err, markErr)
			return result, false
		}
		result.Error = fmt.Sprintf("send reply: %v", err)
		return result, false
	}

	if err := o.store.MarkAttemptSent(ctx, attempt.ID, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrAlreadyResponded) {
			// Lost the send race to a concurrent run: a success-no-op.
			// Retire this attempt so it does not linger in the queue.
			_ = o.store.MarkAttemptManual(ctx, attempt.ID)
			result.Skipped = true
			result.SkipReason = "already responded"
			return result, false
		}
		result.Error = err.Error()
		return result, false
	}

	result.Responded = true
	return result, true
}

// alreadyQueued reports whether the review already has an attempt that makes
// new automated work redundant: a pending draft awaiting approval, a failed
// send awaiting operator resubmission, or a manual opt-out.
func (o *Orchestrator) alreadyQueued(ctx context.Context, reviewID string) (bool, string, error) {
	attempts, err := o.store.ListAttempts(ctx, store.AttemptListFilter{ReviewID: reviewID})
	if err != nil {
		return false, "", err
	}
	for _, a := range attempts {
		switch a.Status {
		case models.AttemptStatusPending:
			return true, "draft awaiting approval", nil
		case models.AttemptStatusFailed:
			return true, "failed attempt awaiting resubmission", nil
		case models.AttemptStatusManual:
			return true, "opted out of automation", nil
		}
	}
	return false, "", nil
}
