// Package policy selects the response policy for a review rating.
//
// Selection is deterministic: among active policies whose inclusive rating
// range contains the rating, the highest priority wins, ties broken by most
// recent creation. When nothing matches, the default policy is the fallback.
package policy

import (
	"errors"
	"fmt"

	"github.com/reviewpilot/rp/internal/models"
)

// ErrNoDefaultPolicy indicates that no policy matched the rating and no
// default policy is configured. This is a configuration error: a sync run
// must abort rather than process reviews without a policy.
var ErrNoDefaultPolicy = errors.New("no matching policy and no default policy configured")

// Match returns the policy for a rating. Ratings outside [1,5] are a caller
// error and are rejected, not clamped.
func Match(policies []*models.ResponsePolicy, rating int) (*models.ResponsePolicy, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating out of range [1,5]: %d", rating)
	}

	var best *models.ResponsePolicy
	for _, p := range policies {
		if !p.IsActive || !p.Matches(rating) {
			continue
		}
		if best == nil || p.Priority > best.Priority ||
			(p.Priority == best.Priority && p.CreatedAt.After(best.CreatedAt)) {
			best = p
		}
	}
	if best != nil {
		return best, nil
	}

	if def := Default(policies); def != nil {
		return def, nil
	}
	return nil, ErrNoDefaultPolicy
}

// Default returns the active default policy, or nil when none is configured.
// Callers that need every rating to resolve should check this before doing
// any work.
func Default(policies []*models.ResponsePolicy) *models.ResponsePolicy {
	for _, p := range policies {
		if p.IsActive && p.IsDefault {
			return p
		}
	}
	return nil
}
