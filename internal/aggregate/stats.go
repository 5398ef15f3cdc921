package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ovillere/dinerate/internal/models"
)

// confidenceSteps maps minimum sample counts to confidence. The
// function is a monotonically increasing step function of sample count,
// telling the UI how trustworthy a small-sample average is.
var confidenceSteps = []struct {
	minCount   int
	confidence float64
}{
	{50, 1.0},
	{25, 0.9},
	{10, 0.75},
	{5, 0.6},
	{3, 0.4},
	{1, 0.2},
}

// ComputeStats derives the full statistics set from a rating list. It
// is a pure function: same ratings and reference time, same aggregate.
func ComputeStats(restaurantID uuid.UUID, ratings []models.Rating, halfLife time.Duration, now time.Time) models.Aggregate {
	if len(ratings) == 0 {
		agg := models.ZeroAggregate(restaurantID)
		agg.ComputedAt = now
		return agg
	}

	scores := make([]float64, len(ratings))
	for i, r := range ratings {
		scores[i] = r.Overall
	}

	distribution := map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}
	for _, s := range scores {
		distribution[bucket(s)]++
	}

	return models.Aggregate{
		RestaurantID:      restaurantID,
		AverageScore:      round1(mean(scores)),
		WeightedAverage:   round2(weightedMean(ratings, halfLife, now)),
		TotalRatings:      len(ratings),
		Distribution:      distribution,
		ConfidenceScore:   Confidence(len(ratings)),
		StandardDeviation: round2(stdDev(scores)),
		Median:            median(scores),
		Mode:              mode(scores),
		ComputedAt:        now,
	}
}

// Confidence returns the step-function confidence for a sample count
func Confidence(n int) float64 {
	for _, step := range confidenceSteps {
		if n >= step.minCount {
			return step.confidence
		}
	}
	return 0
}

// bucket maps a score to its integer bucket 1..5
func bucket(score float64) int {
	b := int(math.Round(score))
	if b < 1 {
		b = 1
	}
	if b > 5 {
		b = 5
	}
	return b
}

func mean(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// weightedMean applies exponential recency decay: weight halves every
// halfLife. Recent opinions dominate without stale ones being dropped.
func weightedMean(ratings []models.Rating, halfLife time.Duration, now time.Time) float64 {
	halfLifeDays := halfLife.Hours() / 24
	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}

	var weightedSum, weightSum float64
	for _, r := range ratings {
		ageDays := now.Sub(r.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		w := math.Pow(0.5, ageDays/halfLifeDays)
		weightedSum += w * r.Overall
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return weightedSum / weightSum
}

// stdDev is the population standard deviation
func stdDev(scores []float64) float64 {
	m := mean(scores)
	var sumSq float64
	for _, s := range scores {
		d := s - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(scores)))
}

func median(scores []float64) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mode returns the most frequent score; ties break toward the lowest
// score value.
func mode(scores []float64) float64 {
	freq := make(map[float64]int)
	for _, s := range scores {
		freq[s]++
	}

	best, bestCount := 0.0, 0
	for s, c := range freq {
		if c > bestCount || (c == bestCount && s < best) {
			best, bestCount = s, c
		}
	}
	return best
}

func round1(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
