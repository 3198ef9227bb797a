package policy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/rp/internal/models"
	"github.com/reviewpilot/rp/internal/store"
)

func pol(name string, min, max, priority int, opts ...func(*models.ResponsePolicy)) *models.ResponsePolicy {
	p := &models.ResponsePolicy{
		Name:      name,
		MinRating: min,
		MaxRating: max,
		Priority:  priority,
		Tone:      models.ToneProfessional,
		IsActive:  true,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func asDefault(p *models.ResponsePolicy) { p.IsDefault = true }
func inactive(p *models.ResponsePolicy)  { p.IsActive = false }

func TestMatch_RangeIsInclusive(t *testing.T) {
	policies := []*models.ResponsePolicy{pol("negative", 1, 2, 20)}

	for _, rating := range []int{1, 2} {
		got, err := Match(policies, rating)
		require.NoError(t, err)
		assert.Equal(t, "negative", got.Name)
	}
}

func TestMatch_HighestPriorityWins(t *testing.T) {
	policies := []*models.ResponsePolicy{
		pol("broad", 1, 5, 0, asDefault),
		pol("negative", 1, 2, 20),
		pol("mixed", 3, 3, 5),
	}

	got, err := Match(policies, 1)
	require.NoError(t, err)
	assert.Equal(t, "negative", got.Name)

	got, err = Match(policies, 3)
	require.NoError(t, err)
	assert.Equal(t, "mixed", got.Name)

	// The default still participates in range matching
	got, err = Match(policies, 5)
	require.NoError(t, err)
	assert.Equal(t, "broad", got.Name)
}

func TestMatch_PriorityTieNewestWins(t *testing.T) {
	older := pol("older", 4, 5, 10)
	newer := pol("newer", 4, 5, 10)
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)

	got, err := Match([]*models.ResponsePolicy{older, newer}, 5)
	require.NoError(t, err)
	assert.Equal(t, "newer", got.Name)

	// Order of the input slice must not matter
	got, err = Match([]*models.ResponsePolicy{newer, older}, 5)
	require.NoError(t, err)
	assert.Equal(t, "newer", got.Name)
}

func TestMatch_IgnoresInactive(t *testing.T) {
	policies := []*models.ResponsePolicy{
		pol("retired", 4, 5, 50, inactive),
		pol("current", 4, 5, 10),
	}

	got, err := Match(policies, 5)
	require.NoError(t, err)
	assert.Equal(t, "current", got.Name)
}

func TestMatch_FallsBackToDefault(t *testing.T) {
	policies := []*models.ResponsePolicy{
		pol("negative", 1, 2, 20),
		pol("catch-all", 3, 3, 0, asDefault),
	}

	// 5 matches nothing by range, so the default catches it
	got, err := Match(policies, 5)
	require.NoError(t, err)
	assert.Equal(t, "catch-all", got.Name)
}

func TestMatch_InactiveDefaultDoesNotCatch(t *testing.T) {
	policies := []*models.ResponsePolicy{
		pol("negative", 1, 2, 20),
		pol("catch-all", 1, 5, 0, asDefault, inactive),
	}

	_, err := Match(policies, 5)
	assert.ErrorIs(t, err, ErrNoDefaultPolicy)
}

func TestMatch_NoPoliciesAtAll(t *testing.T) {
	_, err := Match(nil, 3)
	assert.ErrorIs(t, err, ErrNoDefaultPolicy)
}

func TestDefault(t *testing.T) {
	def := pol("broad", 1, 5, 0, asDefault)
	policies := []*models.ResponsePolicy{pol("negative", 1, 2, 20), def}

	assert.Same(t, def, Default(policies))
	assert.Nil(t, Default([]*models.ResponsePolicy{pol("negative", 1, 2, 20)}))
	assert.Nil(t, Default([]*models.ResponsePolicy{pol("broad", 1, 5, 0, asDefault, inactive)}))
	assert.Nil(t, Default(nil))
}

func TestMatch_RejectsOutOfRangeRatings(t *testing.T) {
	policies := []*models.ResponsePolicy{pol("broad", 1, 5, 0, asDefault)}

	for _, rating := range []int{0, 6, -1} {
		_, err := Match(policies, rating)
		assert.Error(t, err, "rating %d", rating)
	}
}

func TestSeed(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	created, err := Seed(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 4, created)

	policies, err := s.ListPolicies(ctx, true)
	require.NoError(t, err)
	require.Len(t, policies, 4)

	// The negative band outranks everything it overlaps
	got, err := Match(policies, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ToneEmpathetic, got.Tone)

	got, err = Match(policies, 5)
	require.NoError(t, err)
	assert.Equal(t, models.ToneFriendly, got.Tone)

	// Seeding again creates nothing
	created, err = Seed(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}
