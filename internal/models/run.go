package models

import "time"

// RunStatus is the state of a sync run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is the append-only log entry for one sync invocation. It is
// created with status running and receives exactly one terminal update.
type RunRecord struct {
	ID               string
	JobName          string
	Status           RunStatus
	StartedAt        time.Time
	CompletedAt      *time.Time
	ReviewsProcessed int
	ResponsesSent    int
	ErrorMessage     string
}

// Duration returns the wall time of a finished run, or zero if still running.
func (r *RunRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
