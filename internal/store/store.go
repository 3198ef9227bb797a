package store

import (
	"context"
	"errors"
	"time"

	"github.com/reviewpilot/rp/internal/models"
)

// ErrAlreadyResponded is returned by MarkAttemptSent when a sent attempt
// already exists for the review, i.e. this caller lost the send race.
var ErrAlreadyResponded = errors.New("review already has a sent response")

// ErrAttemptNotSendable is returned when marking an attempt that is not in a
// pending or failed state (sent attempts are immutable, manual ones opted out).
var ErrAttemptNotSendable = errors.New("attempt is not in a sendable state")

// ReviewListFilter specifies filters for listing reviews.
type ReviewListFilter struct {
	Rating    int   // 0 = any
	Responded *bool // nil = any
	Limit     int   // 0 = no limit
}

// AttemptListFilter specifies filters for listing response attempts.
type AttemptListFilter struct {
	ReviewID string
	Status   models.AttemptStatus
	Limit    int
}

// Store defines the persistence interface for rp: the review/attempt ledger,
// response policies, and the run log.
type Store interface {
	// Reviews
	UpsertReview(ctx context.Context, r *models.Review) error
	GetReview(ctx context.Context, id string) (*models.Review, error)
	GetReviewBySourceID(ctx context.Context, sourceID string) (*models.Review, error)
	ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.Review, error)
	HasSentResponse(ctx context.Context, reviewID string) (bool, error)

	// Response attempts
	CreateAttempt(ctx context.Context, a *models.ResponseAttempt) error
	GetAttempt(ctx context.Context, id string) (*models.ResponseAttempt, error)
	ListAttempts(ctx context.Context, filter AttemptListFilter) ([]*models.ResponseAttempt, error)
	UpdateAttemptText(ctx context.Context, id, text string) error
	MarkAttemptSent(ctx context.Context, attemptID string, sentAt time.Time) error
	MarkAttemptFailed(ctx context.Context, attemptID, reason string) error
	MarkAttemptManual(ctx context.Context, attemptID string) error

	// Policies
	CreatePolicy(ctx context.Context, p *models.ResponsePolicy) error
	GetPolicy(ctx context.Context, id string) (*models.ResponsePolicy, error)
	ListPolicies(ctx context.Context, activeOnly bool) ([]*models.ResponsePolicy, error)
	UpdatePolicy(ctx context.Context, p *models.ResponsePolicy) error
	DeletePolicy(ctx context.Context, id string) error

	// Run log
	CreateRun(ctx context.Context, r *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	FinishRun(ctx context.Context, id string, status models.RunStatus, processed, sent int, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
