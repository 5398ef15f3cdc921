package aggregate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

// TestProperty_DistributionSumEqualsCount tests that for any rating set
// the distribution buckets sum to the rating count.
func TestProperty_DistributionSumEqualsCount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		restaurantID := uuid.New()
		now := time.Now().UTC()

		n := rapid.IntRange(0, 200).Draw(rt, "n")
		scores := make([]float64, n)
		for i := range scores {
			scores[i] = rapid.Float64Range(1, 5).Draw(rt, "score")
		}

		agg := ComputeStats(restaurantID, ratingsFromScores(restaurantID, scores, now), testHalfLife, now)

		total := 0
		for b, count := range agg.Distribution {
			if b < 1 || b > 5 {
				rt.Fatalf("PROPERTY VIOLATION: distribution bucket %d outside 1..5", b)
			}
			if count < 0 {
				rt.Fatalf("PROPERTY VIOLATION: negative bucket count %d", count)
			}
			total += count
		}
		if total != n {
			rt.Fatalf("PROPERTY VIOLATION: distribution sums to %d, want %d", total, n)
		}
		if agg.TotalRatings != n {
			rt.Fatalf("PROPERTY VIOLATION: total ratings %d, want %d", agg.TotalRatings, n)
		}
	})
}

// TestProperty_ConfidenceMonotonic tests that confidence never
// decreases as the sample count grows.
func TestProperty_ConfidenceMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.IntRange(0, 500).Draw(rt, "a")
		b := rapid.IntRange(0, 500).Draw(rt, "b")
		if a > b {
			a, b = b, a
		}
		ca, cb := Confidence(a), Confidence(b)
		if ca > cb {
			rt.Fatalf("PROPERTY VIOLATION: confidence(%d)=%f > confidence(%d)=%f", a, ca, b, cb)
		}
		if ca < 0 || cb > 1 {
			rt.Fatalf("PROPERTY VIOLATION: confidence outside [0,1]")
		}
	})
}

// TestProperty_AverageWithinScoreBounds tests that the rounded average
// stays inside the score range for any non-empty rating set.
func TestProperty_AverageWithinScoreBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		restaurantID := uuid.New()
		now := time.Now().UTC()

		n := rapid.IntRange(1, 100).Draw(rt, "n")
		scores := make([]float64, n)
		for i := range scores {
			scores[i] = rapid.Float64Range(1, 5).Draw(rt, "score")
		}

		agg := ComputeStats(restaurantID, ratingsFromScores(restaurantID, scores, now), testHalfLife, now)

		if agg.AverageScore < 1 || agg.AverageScore > 5 {
			rt.Fatalf("PROPERTY VIOLATION: average %f outside [1,5]", agg.AverageScore)
		}
		if agg.WeightedAverage < 1 || agg.WeightedAverage > 5 {
			rt.Fatalf("PROPERTY VIOLATION: weighted average %f outside [1,5]", agg.WeightedAverage)
		}
		if agg.StandardDeviation < 0 {
			rt.Fatalf("PROPERTY VIOLATION: negative standard deviation")
		}
	})
}
