package models

import "time"

// Review is a customer review mirrored from the external source.
// SourceID is the source-assigned identifier and never changes; rows are
// created on first sync observation and never deleted.
type Review struct {
	ID          string
	SourceID    string
	AuthorName  string
	Title       string
	Text        string
	Rating      int // 1-5 stars
	Language    string
	Verified    bool
	CreatedAt   time.Time  // creation timestamp at the source
	FirstSeenAt time.Time  // first local sync observation
	RespondedAt *time.Time // set exactly once, when a response reaches sent
}

// Responded reports whether a sent response exists for this review.
func (r *Review) Responded() bool {
	return r.RespondedAt != nil
}
