package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/rp/internal/models"
	"github.com/reviewpilot/rp/internal/policy"
	"github.com/reviewpilot/rp/internal/store"
	"github.com/reviewpilot/rp/internal/trustpilot"
)

type fakeSource struct {
	reviews    []*models.Review
	fetchErr   error
	fetchCalls int

	sendErr  error
	onSend   func(sourceID string)
	sentTo   []string
	sentMsgs []string
}

func (f *fakeSource) FetchReviews(ctx context.Context, opts trustpilot.FetchOptions) ([]*models.Review, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.reviews, nil
}

func (f *fakeSource) SendReply(ctx context.Context, sourceID, message string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.onSend != nil {
		f.onSend(sourceID)
	}
	f.sentTo = append(f.sentTo, sourceID)
	f.sentMsgs = append(f.sentMsgs, message)
	return nil
}

type fakeGenerator struct {
	err    error
	calls  int
	onCall func()
}

func (f *fakeGenerator) GenerateReply(ctx context.Context, review *models.Review, instruction, tone string) (string, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("Gentile %s, grazie per la recensione. [%s]", review.AuthorName, tone), nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPolicies(t *testing.T, s store.Store) {
	t.Helper()
	_, err := policy.Seed(context.Background(), s)
	require.NoError(t, err)
}

func sourceReview(sourceID string, rating int) *models.Review {
	return &models.Review{
		SourceID:   sourceID,
		AuthorName: "Anna Bianchi",
		Text:       "Recensione di prova.",
		Rating:     rating,
		Language:   "it",
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
	}
}

func TestRun_QueuesDraftsWithoutAutoReply(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 5), sourceReview("tp-2", 1)}}
	gen := &fakeGenerator{}
	ctx := context.Background()

	summary, err := New(s, src, gen).Run(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ReviewsProcessed)
	assert.Equal(t, 0, summary.ResponsesSent)
	assert.Empty(t, src.sentTo, "nothing is sent without auto-reply")

	attempts, err := s.ListAttempts(ctx, store.AttemptListFilter{})
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		assert.Equal(t, models.AttemptStatusPending, a.Status)
		assert.NotNil(t, a.PolicyID)
	}

	run, err := s.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.ReviewsProcessed)
}

func TestRun_AutoReplySends(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 5)}}
	gen := &fakeGenerator{}
	ctx := context.Background()

	summary, err := New(s, src, gen).Run(ctx, Options{AutoReply: true})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ResponsesSent)
	require.Len(t, src.sentTo, 1)
	assert.Equal(t, "tp-1", src.sentTo[0])
	assert.True(t, summary.Results[0].Responded)

	attempts, err := s.ListAttempts(ctx, store.AttemptListFilter{})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptStatusSent, attempts[0].Status)

	review, err := s.GetReviewBySourceID(ctx, "tp-1")
	require.NoError(t, err)
	assert.NotNil(t, review.RespondedAt)
}

func TestRun_Idempotent(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 5)}}
	gen := &fakeGenerator{}
	ctx := context.Background()
	o := New(s, src, gen)

	_, err := o.Run(ctx, Options{AutoReply: true})
	require.NoError(t, err)

	// The source returns the same review again on the next sync
	src.reviews = []*models.Review{sourceReview("tp-1", 5)}
	summary, err := o.Run(ctx, Options{AutoReply: true})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ReviewsProcessed)
	assert.Equal(t, 0, summary.ResponsesSent)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Skipped)
	assert.Equal(t, "already responded", summary.Results[0].SkipReason)

	assert.Len(t, src.sentTo, 1, "the reply must not be sent twice")
	assert.Equal(t, 1, gen.calls, "no draft is generated for an answered review")
}

func TestRun_SkipsReviewWithPendingDraft(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 5)}}
	gen := &fakeGenerator{}
	ctx := context.Background()
	o := New(s, src, gen)

	_, err := o.Run(ctx, Options{})
	require.NoError(t, err)

	src.reviews = []*models.Review{sourceReview("tp-1", 5)}
	summary, err := o.Run(ctx, Options{})
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Skipped)
	assert.Equal(t, "draft awaiting approval", summary.Results[0].SkipReason)
	assert.Equal(t, 1, gen.calls)

	attempts, err := s.ListAttempts(ctx, store.AttemptListFilter{})
	require.NoError(t, err)
	assert.Len(t, attempts, 1, "no duplicate draft is queued")
}

func TestRun_DryRunPersistsNothing(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 5)}}
	gen := &fakeGenerator{}
	ctx := context.Background()

	summary, err := New(s, src, gen).Run(ctx, Options{DryRun: true, AutoReply: true})
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.NotEmpty(t, summary.Results[0].Response, "the draft is still generated")
	assert.False(t, summary.Results[0].Responded)
	assert.Empty(t, src.sentTo)

	attempts, err := s.ListAttempts(ctx, store.AttemptListFilter{})
	require.NoError(t, err)
	assert.Empty(t, attempts)

	// The run itself is still logged
	run, err := s.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}

func TestRun_SendFailureMarksAttemptAndContinues(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	src := &fakeSource{
		reviews: []*models.Review{sourceReview("tp-1", 5), sourceReview("tp-2", 2)},
		sendErr: errors.New("502 from source"),
	}
	gen := &fakeGenerator{}
	ctx := context.Background()

	summary, err := New(s, src, gen).Run(ctx, Options{AutoReply: true})
	require.NoError(t, err, "a send failure is per-review, not run-fatal")

	assert.Equal(t, 2, summary.ReviewsProcessed)
	assert.Equal(t, 0, summary.ResponsesSent)
	for _, r := range summary.Results {
		assert.Contains(t, r.Error, "send reply")
	}

	attempts, err := s.ListAttempts(ctx, store.AttemptListFilter{Status: models.AttemptStatusFailed})
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Contains(t, attempts[0].FailureReason, "502")

	run, err := s.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}

func TestRun_GenerateFailureContinues(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 5)}}
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	ctx := context.Background()

	summary, err := New(s, src, gen).Run(ctx, Options{AutoReply: true})
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Contains(t, summary.Results[0].Error, "generate reply")

	// The review is still recorded even though drafting failed
	review, err := s.GetReviewBySourceID(ctx, "tp-1")
	require.NoError(t, err)
	assert.Nil(t, review.RespondedAt)

	attempts, err := s.ListAttempts(ctx, store.AttemptListFilter{})
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestRun_FetchFailureFailsRun(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	src := &fakeSource{fetchErr: errors.New("401 unauthorized")}
	ctx := context.Background()

	summary, err := New(s, src, &fakeGenerator{}).Run(ctx, Options{})
	require.Error(t, err)
	assert.Equal(t, 0, summary.ReviewsProcessed)

	run, err := s.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "401")
}

func TestRun_NoDefaultPolicyIsFatal(t *testing.T) {
	s := newTestStore(t)
	// Only a narrow policy, no default. Even though the first review would
	// match it, the run must abort before touching any review.
	require.NoError(t, s.CreatePolicy(context.Background(), &models.ResponsePolicy{
		Name: "negative", MinRating: 1, MaxRating: 2,
		Tone: models.ToneEmpathetic, IsActive: true, Priority: 20,
	}))
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 1), sourceReview("tp-2", 5)}}
	gen := &fakeGenerator{}
	ctx := context.Background()

	summary, err := New(s, src, gen).Run(ctx, Options{AutoReply: true})
	require.ErrorIs(t, err, policy.ErrNoDefaultPolicy)

	assert.Equal(t, 0, summary.ReviewsProcessed, "no partial processing")
	assert.Equal(t, 0, src.fetchCalls, "nothing is fetched")
	assert.Equal(t, 0, gen.calls)
	assert.Empty(t, src.sentTo)

	reviews, err := s.ListReviews(ctx, store.ReviewListFilter{})
	require.NoError(t, err)
	assert.Empty(t, reviews, "no review reaches the ledger")

	run, err := s.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

func TestRun_InactiveDefaultIsFatal(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreatePolicy(context.Background(), &models.ResponsePolicy{
		Name: "default", MinRating: 1, MaxRating: 5,
		Tone: models.ToneProfessional, IsDefault: true, IsActive: false,
	}))
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 5)}}
	ctx := context.Background()

	summary, err := New(s, src, &fakeGenerator{}).Run(ctx, Options{})
	require.ErrorIs(t, err, policy.ErrNoDefaultPolicy)
	assert.Equal(t, 0, summary.ReviewsProcessed)
	assert.Equal(t, 0, src.fetchCalls)
}

func TestRun_LosingSendRaceIsNoOp(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	ctx := context.Background()

	// A concurrent run sends a reply for the same review while ours is in
	// flight: ours passes the pre-checks but must lose the conditional update.
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 5)}}
	src.onSend = func(sourceID string) {
		review, err := s.GetReviewBySourceID(ctx, sourceID)
		require.NoError(t, err)
		rival := &models.ResponseAttempt{ReviewID: review.ID, Text: "Grazie!"}
		require.NoError(t, s.CreateAttempt(ctx, rival))
		require.NoError(t, s.MarkAttemptSent(ctx, rival.ID, time.Now().UTC()))
	}

	summary, err := New(s, src, &fakeGenerator{}).Run(ctx, Options{AutoReply: true})
	require.NoError(t, err, "losing the race is success, not an error")

	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Skipped)
	assert.Equal(t, "already responded", summary.Results[0].SkipReason)
	assert.Equal(t, 0, summary.ResponsesSent)

	// The losing attempt is retired, not left queued
	pending, err := s.ListAttempts(ctx, store.AttemptListFilter{Status: models.AttemptStatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	sent, err := s.ListAttempts(ctx, store.AttemptListFilter{Status: models.AttemptStatusSent})
	require.NoError(t, err)
	assert.Len(t, sent, 1, "exactly one attempt ends up sent")
}

func TestRun_CancelledBetweenReviews(t *testing.T) {
	s := newTestStore(t)
	seedPolicies(t, s)
	src := &fakeSource{reviews: []*models.Review{sourceReview("tp-1", 5), sourceReview("tp-2", 4)}}
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel while the first review is in flight
	gen := &fakeGenerator{onCall: cancel}
	summary, err := New(s, src, gen).Run(ctx, Options{})
	require.ErrorIs(t, err, context.Canceled)

	// The second review was never started
	assert.Equal(t, 1, summary.ReviewsProcessed)
	assert.Equal(t, 1, gen.calls)

	run, getErr := s.GetRun(context.Background(), summary.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, models.RunStatusFailed, run.Status)
}
