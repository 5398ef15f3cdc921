package models

import (
	"time"

	"github.com/google/uuid"
)

// Aggregate holds the derived statistics for one restaurant's visible
// rating set. It is a pure cache: always re-derivable from the ratings
// and never authoritative against a fresh recomputation.
type Aggregate struct {
	RestaurantID       uuid.UUID   `json:"restaurant_id"`
	AverageScore       float64     `json:"average_score"`
	WeightedAverage    float64     `json:"weighted_average"`
	TotalRatings       int         `json:"total_ratings"`
	Distribution       map[int]int `json:"distribution"`
	ConfidenceScore    float64     `json:"confidence_score"`
	StandardDeviation  float64     `json:"standard_deviation"`
	Median             float64     `json:"median"`
	Mode               float64     `json:"mode"`
	ComputedAt         time.Time   `json:"computed_at"`
	IsFromOfflineCache bool        `json:"is_from_offline_cache"`
	// Degraded marks results produced through an integrity fallback
	// path, e.g. a failed summary write-back.
	Degraded bool `json:"degraded,omitempty"`
}

// ZeroAggregate returns the well-defined empty aggregate for a
// restaurant with no visible ratings.
func ZeroAggregate(restaurantID uuid.UUID) Aggregate {
	return Aggregate{
		RestaurantID:    restaurantID,
		Distribution:    map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		ConfidenceScore: 0,
		ComputedAt:      time.Now().UTC(),
	}
}

// RestaurantSummary is the denormalized read-optimization written back
// onto the restaurant record after each recomputation.
type RestaurantSummary struct {
	AverageScore    float64   `json:"average_score"`
	WeightedAverage float64   `json:"weighted_average"`
	TotalRatings    int       `json:"total_ratings"`
	ComputedAt      time.Time `json:"computed_at"`
}
