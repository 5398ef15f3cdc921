package aggregate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovillere/dinerate/internal/models"
)

const testHalfLife = 30 * 24 * time.Hour

func ratingsFromScores(restaurantID uuid.UUID, scores []float64, createdAt time.Time) []models.Rating {
	ratings := make([]models.Rating, len(scores))
	for i, s := range scores {
		ratings[i] = models.Rating{
			ID:           uuid.New(),
			RestaurantID: restaurantID,
			Overall:      s,
			Status:       models.ModerationApproved,
			CreatedAt:    createdAt,
		}
	}
	return ratings
}

func TestComputeStats_KnownScenario(t *testing.T) {
	restaurantID := uuid.New()
	now := time.Now().UTC()
	ratings := ratingsFromScores(restaurantID, []float64{5, 5, 4, 3, 5}, now)

	agg := ComputeStats(restaurantID, ratings, testHalfLife, now)

	assert.Equal(t, 4.4, agg.AverageScore)
	assert.Equal(t, 5.0, agg.Median)
	assert.Equal(t, 5.0, agg.Mode)
	assert.Equal(t, 5, agg.TotalRatings)
	assert.Equal(t, map[int]int{1: 0, 2: 0, 3: 1, 4: 1, 5: 3}, agg.Distribution)
}

func TestComputeStats_EmptySet(t *testing.T) {
	restaurantID := uuid.New()
	now := time.Now().UTC()

	agg := ComputeStats(restaurantID, nil, testHalfLife, now)

	assert.Equal(t, 0.0, agg.AverageScore)
	assert.Equal(t, 0.0, agg.WeightedAverage)
	assert.Equal(t, 0, agg.TotalRatings)
	assert.Equal(t, 0.0, agg.ConfidenceScore)
	assert.Equal(t, 0.0, agg.StandardDeviation)
	assert.Equal(t, 0.0, agg.Median)
	assert.Equal(t, 0.0, agg.Mode)
	require.NotNil(t, agg.Distribution)

	total := 0
	for _, count := range agg.Distribution {
		total += count
	}
	assert.Equal(t, 0, total)
}

func TestComputeStats_MedianEvenCount(t *testing.T) {
	restaurantID := uuid.New()
	now := time.Now().UTC()
	ratings := ratingsFromScores(restaurantID, []float64{2, 4, 5, 3}, now)

	agg := ComputeStats(restaurantID, ratings, testHalfLife, now)

	assert.Equal(t, 3.5, agg.Median)
}

func TestComputeStats_ModeTieBreaksLow(t *testing.T) {
	restaurantID := uuid.New()
	now := time.Now().UTC()
	ratings := ratingsFromScores(restaurantID, []float64{2, 2, 5, 5, 3}, now)

	agg := ComputeStats(restaurantID, ratings, testHalfLife, now)

	assert.Equal(t, 2.0, agg.Mode)
}

func TestComputeStats_WeightedFavorsRecent(t *testing.T) {
	restaurantID := uuid.New()
	now := time.Now().UTC()

	old := models.Rating{Overall: 1, CreatedAt: now.Add(-120 * 24 * time.Hour)}
	recent := models.Rating{Overall: 5, CreatedAt: now}

	agg := ComputeStats(restaurantID, []models.Rating{old, recent}, testHalfLife, now)

	// Plain mean is 3.0; decay pulls the weighted mean toward the
	// recent opinion.
	assert.Equal(t, 3.0, agg.AverageScore)
	assert.Greater(t, agg.WeightedAverage, 4.0)
}
