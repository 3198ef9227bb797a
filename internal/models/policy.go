package models

import "time"

// Tone labels understood by the draft generator.
const (
	ToneProfessional = "professionale"
	ToneFriendly     = "amichevole"
	ToneFormal       = "formale"
	ToneEmpathetic   = "empatico"
)

// ResponsePolicy maps a rating range to a tone and instruction used when
// generating a reply. Exactly one policy may be the default at any time; it is
// the fallback when no other policy's range matches a rating.
type ResponsePolicy struct {
	ID          string
	Name        string
	Description string
	MinRating   int // inclusive
	MaxRating   int // inclusive
	Tone        string
	Instruction string
	IsDefault   bool
	IsActive    bool
	Priority    int // higher wins
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Matches reports whether the policy's rating range contains the rating.
func (p *ResponsePolicy) Matches(rating int) bool {
	return rating >= p.MinRating && rating <= p.MaxRating
}
