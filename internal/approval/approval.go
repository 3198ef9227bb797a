// Package approval is the operator surface over queued response attempts:
// approving (optionally with edited text) sends the reply, rejecting opts the
// review out of automation.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewpilot/rp/internal/models"
	"github.com/reviewpilot/rp/internal/store"
)

// Sender submits a reply to the review source.
type Sender interface {
	SendReply(ctx context.Context, sourceID, message string) error
}

// QueuedResponse pairs an attempt with its review for display.
type QueuedResponse struct {
	Attempt *models.ResponseAttempt
	Review  *models.Review
}

// Service manages the approval queue.
type Service struct {
	store  store.Store
	source Sender
}

// NewService creates the approval service.
func NewService(s store.Store, src Sender) *Service {
	return &Service{store: s, source: src}
}

// List returns attempts with the given status (empty = all), newest first,
// joined with their reviews. Failed attempts are listed distinctly from
// pending ones so an operator can tell "never tried" from "tried and bounced".
func (s *Service) List(ctx context.Context, status models.AttemptStatus, limit int) ([]*QueuedResponse, error) {
	attempts, err := s.store.ListAttempts(ctx, store.AttemptListFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, err
	}

	out := make([]*QueuedResponse, 0, len(attempts))
	for _, a := range attempts {
		review, err := s.store.GetReview(ctx, a.ReviewID)
		if err != nil {
			return nil, err
		}
		out = append(out, &QueuedResponse{Attempt: a, Review: review})
	}
	return out, nil
}

// Approve sends a queued attempt's text (or the operator's edited text) to the
// source and marks it sent. Both pending and failed attempts are approvable;
// sent and manual ones are not. A send failure marks the attempt failed and
// keeps it resubmittable.
func (s *Service) Approve(ctx context.Context, attemptID, editedText string) (*models.ResponseAttempt, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.Sendable() {
		return nil, store.ErrAttemptNotSendable
	}

	if editedText != "" && editedText != attempt.Text {
		if err := s.store.UpdateAttemptText(ctx, attemptID, editedText); err != nil {
			return nil, err
		}
		attempt.Text = editedText
	}

	review, err := s.store.GetReview(ctx, attempt.ReviewID)
	if err != nil {
		return nil, err
	}

	if err := s.source.SendReply(ctx, review.SourceID, attempt.Text); err != nil {
		if markErr := s.store.MarkAttemptFailed(ctx, attemptID, err.Error()); markErr != nil {
			return nil, fmt.Errorf("send reply: %v (record failure: %w)", err, markErr)
		}
		return nil, fmt.Errorf("send reply: %w", err)
	}

	if err := s.store.MarkAttemptSent(ctx, attemptID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.store.GetAttempt(ctx, attemptID)
}

// Reject retires a queued attempt: the review is handled manually and the
// orchestrator will not draft for it again.
func (s *Service) Reject(ctx context.Context, attemptID string) error {
	return s.store.MarkAttemptManual(ctx, attemptID)
}
