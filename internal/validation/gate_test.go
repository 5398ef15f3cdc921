package validation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovillere/dinerate/internal/config"
	"github.com/ovillere/dinerate/internal/models"
	"github.com/ovillere/dinerate/internal/ratelimit"
	"github.com/ovillere/dinerate/internal/store"
)

// stubRatings serves exactly the calls the gate makes
type stubRatings struct {
	existing *models.Rating
	getErr   error
	guard    *models.DuplicateGuard
	upserted *models.DuplicateGuard
}

func (s *stubRatings) QueryRatings(context.Context, uuid.UUID, store.RatingFilters) ([]models.Rating, error) {
	return nil, nil
}

func (s *stubRatings) GetRatingByUser(context.Context, uuid.UUID, string) (*models.Rating, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.existing == nil {
		return nil, store.ErrRatingNotFound
	}
	return s.existing, nil
}

func (s *stubRatings) CreateRating(_ context.Context, r *models.Rating) (uuid.UUID, error) {
	return r.ID, nil
}

func (s *stubRatings) UpdateRating(context.Context, uuid.UUID, models.RatingPatch) (*models.Rating, error) {
	return nil, store.ErrRatingNotFound
}

func (s *stubRatings) UpdateRestaurantSummary(context.Context, uuid.UUID, models.RestaurantSummary) error {
	return nil
}

func (s *stubRatings) GetDuplicateGuard(context.Context, string, uuid.UUID) (*models.DuplicateGuard, error) {
	return s.guard, nil
}

func (s *stubRatings) UpsertDuplicateGuard(_ context.Context, g *models.DuplicateGuard) error {
	s.upserted = g
	return nil
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
}

func (s *stubLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return s.decision, s.err
}

func (s *stubLimiter) Reset(context.Context, string) error { return nil }

func allowAll() *stubLimiter {
	return &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
}

func testFraudConfig() *config.FraudConfig {
	return &config.FraudConfig{
		IdenticalExtremeMin: 3,
		MinCadence:          5 * time.Second,
		ScoreTolerance:      1.5,
		MaxClockSkew:        time.Minute,
		MaxRatingAge:        30 * 24 * time.Hour,
		DuplicateWindow:     24 * time.Hour,
		MaxCommentLen:       500,
	}
}

func fptr(v float64) *float64 { return &v }

var testNow = time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

func newTestGate(ratings store.Ratings, limiter ratelimit.Limiter) *Gate {
	g := NewGate(ratings, limiter, testFraudConfig())
	g.SetClock(func() time.Time { return testNow })
	return g
}

func validSubmission() models.RatingSubmission {
	return models.RatingSubmission{
		RestaurantID: uuid.New(),
		Identity:     models.Identity{PseudonymID: "pseudo-1", DisplayName: "Ana"},
		Signals: models.DeviceSignals{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
		},
		Overall:     4,
		Taste:       fptr(4),
		Service:     fptr(4.5),
		Comment:     "Great pasta, friendly staff.",
		SubmittedAt: testNow,
	}
}

func TestGate_AcceptsValidSubmission(t *testing.T) {
	ratings := &stubRatings{}
	gate := newTestGate(ratings, allowAll())

	res, err := gate.Validate(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.IsUpdate)

	require.NotNil(t, ratings.upserted)
	assert.True(t, ratings.upserted.HasReviewed)
	assert.Equal(t, 1, ratings.upserted.ReviewCount)
	assert.Equal(t, testNow, ratings.upserted.LastInteractionAt)
}

func TestGate_SchemaRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.RatingSubmission)
		want   string
	}{
		{
			name:   "missing restaurant id",
			mutate: func(s *models.RatingSubmission) { s.RestaurantID = uuid.Nil },
			want:   "restaurant id is required",
		},
		{
			name:   "missing identity",
			mutate: func(s *models.RatingSubmission) { s.Identity.PseudonymID = "" },
			want:   "identity is required",
		},
		{
			name:   "overall too low",
			mutate: func(s *models.RatingSubmission) { s.Overall = 0.5; s.Taste = nil; s.Service = nil },
			want:   "overall score must be between 1 and 5",
		},
		{
			name:   "overall too high",
			mutate: func(s *models.RatingSubmission) { s.Overall = 5.5; s.Taste = nil; s.Service = nil },
			want:   "overall score must be between 1 and 5",
		},
		{
			name:   "sub-score out of range",
			mutate: func(s *models.RatingSubmission) { s.Price = fptr(6) },
			want:   "price score must be between 0 and 5",
		},
		{
			name:   "comment too long",
			mutate: func(s *models.RatingSubmission) { s.Comment = strings.Repeat("a", 501) },
			want:   "comment must be at most 500 characters",
		},
		{
			name: "overall diverges from sub-scores",
			mutate: func(s *models.RatingSubmission) {
				s.Overall = 5
				s.Taste = fptr(1)
				s.Service = fptr(1)
			},
			want: "overall score is inconsistent with the supplied sub-scores",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gate := newTestGate(&stubRatings{}, allowAll())
			sub := validSubmission()
			tc.mutate(&sub)

			res, err := gate.Validate(context.Background(), sub)
			require.NoError(t, err)
			assert.False(t, res.Accepted)
			assert.Equal(t, StageSchema, res.Stage)
			assert.Contains(t, res.Reasons, tc.want)
		})
	}
}

func TestGate_RateLimitedStopsAtStageTwo(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{
		Allowed:    false,
		Reason:     ratelimit.ReasonBurst,
		RetryAfter: 5 * time.Minute,
	}}
	gate := newTestGate(&stubRatings{}, limiter)

	res, err := gate.Validate(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, StageRateLimit, res.Stage)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], ratelimit.ReasonBurst)
	assert.Contains(t, res.Reasons[0], "retry in")
}

func TestGate_LimiterErrorFailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	gate := newTestGate(&stubRatings{}, limiter)

	res, err := gate.Validate(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestGate_DuplicateWithinWindowRejected(t *testing.T) {
	sub := validSubmission()
	ratings := &stubRatings{existing: &models.Rating{
		ID:           uuid.New(),
		RestaurantID: sub.RestaurantID,
		PseudonymID:  sub.Identity.PseudonymID,
		UpdatedAt:    testNow.Add(-2 * time.Hour),
	}}
	gate := newTestGate(ratings, allowAll())

	res, err := gate.Validate(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, StageDuplicate, res.Stage)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "22 hour(s)")
}

func TestGate_StaleRatingBecomesUpdate(t *testing.T) {
	sub := validSubmission()
	existingID := uuid.New()
	ratings := &stubRatings{existing: &models.Rating{
		ID:           existingID,
		RestaurantID: sub.RestaurantID,
		PseudonymID:  sub.Identity.PseudonymID,
		UpdatedAt:    testNow.Add(-25 * time.Hour),
	}}
	gate := newTestGate(ratings, allowAll())

	res, err := gate.Validate(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.IsUpdate)
	require.NotNil(t, res.ExistingRatingID)
	assert.Equal(t, existingID, *res.ExistingRatingID)
}

func TestGate_StoreFailureSurfacesError(t *testing.T) {
	ratings := &stubRatings{getErr: errors.New("connection refused")}
	gate := newTestGate(ratings, allowAll())

	_, err := gate.Validate(context.Background(), validSubmission())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate check")
}

func TestGate_AutomationMarkerRejected(t *testing.T) {
	gate := newTestGate(&stubRatings{}, allowAll())
	sub := validSubmission()
	sub.Signals.UserAgent = "Mozilla/5.0 HeadlessChrome/120.0"

	res, err := gate.Validate(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, StageFraud, res.Stage)
	assert.Contains(t, res.Reasons[0], "headlesschrome")
}

func TestGate_IdenticalExtremeScoresRejected(t *testing.T) {
	gate := newTestGate(&stubRatings{}, allowAll())
	sub := validSubmission()
	sub.Overall = 5
	sub.Taste = fptr(5)
	sub.Price = fptr(5)
	sub.Ambiance = fptr(5)
	sub.Service = fptr(5)

	res, err := gate.Validate(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, StageFraud, res.Stage)
	assert.Contains(t, res.Reasons, "identical extreme scores across independent criteria")
}

func TestGate_MixedHighScoresAccepted(t *testing.T) {
	gate := newTestGate(&stubRatings{}, allowAll())
	sub := validSubmission()
	sub.Overall = 4.5
	sub.Taste = fptr(5)
	sub.Price = fptr(4)
	sub.Ambiance = fptr(5)
	sub.Service = fptr(4.5)

	res, err := gate.Validate(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestGate_IncoherentScoreComboRejected(t *testing.T) {
	gate := newTestGate(&stubRatings{}, allowAll())
	sub := validSubmission()
	sub.Overall = 5
	sub.Taste = fptr(5)
	sub.Price = fptr(1)
	sub.Ambiance = fptr(5)
	sub.Service = fptr(1)

	res, err := gate.Validate(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, StageFraud, res.Stage)
	assert.Contains(t, res.Reasons, "incoherent combination of quality, price and service scores")
}

func TestGate_ImplausibleCadenceRejected(t *testing.T) {
	ratings := &stubRatings{guard: &models.DuplicateGuard{
		HasReviewed:       true,
		ReviewCount:       1,
		LastInteractionAt: testNow.Add(-time.Second),
	}}
	gate := newTestGate(ratings, allowAll())

	res, err := gate.Validate(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, StageFraud, res.Stage)
	assert.Contains(t, res.Reasons, "submission cadence is implausibly fast")
}

func TestGate_BusinessRuleRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.RatingSubmission)
		want   string
	}{
		{
			name:   "timestamp in the future",
			mutate: func(s *models.RatingSubmission) { s.SubmittedAt = testNow.Add(5 * time.Minute) },
			want:   "submission timestamp is in the future",
		},
		{
			name:   "timestamp too old",
			mutate: func(s *models.RatingSubmission) { s.SubmittedAt = testNow.Add(-31 * 24 * time.Hour) },
			want:   "submission timestamp is older than 30 days",
		},
		{
			name:   "comment with url",
			mutate: func(s *models.RatingSubmission) { s.Comment = "visit https://spam.example for deals" },
			want:   "comments may not contain URLs",
		},
		{
			name:   "comment with character run",
			mutate: func(s *models.RatingSubmission) { s.Comment = "soooooooooo good" },
			want:   "comment contains long repeated character runs",
		},
		{
			name:   "comment shouting",
			mutate: func(s *models.RatingSubmission) { s.Comment = "ABSOLUTELY TERRIBLE SERVICE NEVER AGAIN" },
			want:   "comment is written almost entirely in capitals",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gate := newTestGate(&stubRatings{}, allowAll())
			sub := validSubmission()
			tc.mutate(&sub)

			res, err := gate.Validate(context.Background(), sub)
			require.NoError(t, err)
			assert.False(t, res.Accepted)
			assert.Equal(t, StageBusiness, res.Stage)
			assert.Contains(t, res.Reasons, tc.want)
		})
	}
}

func TestGate_CommentLimitCountsCharacters(t *testing.T) {
	gate := newTestGate(&stubRatings{}, allowAll())
	sub := validSubmission()
	// 498 characters but nearly 1.5KB of UTF-8; the limit is on
	// characters, matching the schema's char_length constraint.
	sub.Comment = strings.Repeat("美味しい店です", 83)

	res, err := gate.Validate(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	sub.Comment = strings.Repeat("美味しい店です", 84)
	res, err = gate.Validate(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, StageSchema, res.Stage)
}

func TestGate_ValidateOfflineSkipsStoreBackedStages(t *testing.T) {
	// The live store is unreachable; the degraded gate must still accept
	// a clean submission instead of surfacing the store error.
	ratings := &stubRatings{getErr: errors.New("connection refused")}
	gate := newTestGate(ratings, allowAll())

	res := gate.ValidateOffline(context.Background(), validSubmission())
	assert.True(t, res.Accepted)
	assert.Nil(t, ratings.upserted)
}

func TestGate_ValidateOfflineStillRejectsFraud(t *testing.T) {
	gate := newTestGate(&stubRatings{getErr: errors.New("connection refused")}, allowAll())
	sub := validSubmission()
	sub.Signals.UserAgent = "Mozilla/5.0 HeadlessChrome/120.0"

	res := gate.ValidateOffline(context.Background(), sub)
	assert.False(t, res.Accepted)
	assert.Equal(t, StageFraud, res.Stage)
}

func TestGate_ValidateOfflineStillRejectsSchema(t *testing.T) {
	gate := newTestGate(&stubRatings{}, allowAll())
	sub := validSubmission()
	sub.Overall = 0
	sub.Taste = nil
	sub.Service = nil

	res := gate.ValidateOffline(context.Background(), sub)
	assert.False(t, res.Accepted)
	assert.Equal(t, StageSchema, res.Stage)
}

func TestScreenComment_CleanTextPasses(t *testing.T) {
	assert.Empty(t, screenComment("The tasting menu was worth every penny."))
	assert.Empty(t, screenComment(""))
	assert.Empty(t, screenComment("WOW"))
}

func TestHasCharRun_Boundary(t *testing.T) {
	assert.False(t, hasCharRun("hey"+strings.Repeat("o", 7), maxCharRun))
	assert.True(t, hasCharRun("hey"+strings.Repeat("o", 8), maxCharRun))
	assert.True(t, hasCharRun(strings.Repeat("わ", 8), maxCharRun))
	assert.False(t, hasCharRun("", maxCharRun))
}
