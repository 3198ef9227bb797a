package models

import "time"

// AttemptStatus is the lifecycle state of a generated response.
//
// pending -> sent | failed | manual
// failed  -> sent (operator resubmission only)
type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "pending"
	AttemptStatusSent    AttemptStatus = "sent"
	AttemptStatusFailed  AttemptStatus = "failed"
	AttemptStatusManual  AttemptStatus = "manual"
)

// ResponseAttempt is one generated (and possibly sent) response for a review.
// At most one attempt per review ever reaches sent; the store enforces this
// with a conditional update.
type ResponseAttempt struct {
	ID            string
	ReviewID      string
	PolicyID      *string // nil when the policy has since been deleted
	Text          string
	Status        AttemptStatus
	FailureReason string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// Sendable reports whether the attempt may still be submitted to the source.
func (a *ResponseAttempt) Sendable() bool {
	return a.Status == AttemptStatusPending || a.Status == AttemptStatusFailed
}
