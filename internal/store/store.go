package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ovillere/dinerate/internal/models"
)

// Store errors
var (
	ErrRatingNotFound     = errors.New("rating not found")
	ErrRestaurantNotFound = errors.New("restaurant not found")
)

// RatingFilters narrows a rating query. The zero value selects the
// visible set: approved and not reported.
type RatingFilters struct {
	Status          models.ModerationStatus
	IncludeReported bool
	Since           *time.Time
}

// Ratings is the persistence contract the pipeline consumes. Reads are
// strongly consistent with writes within a session; every mutation is
// published on the change feed.
type Ratings interface {
	QueryRatings(ctx context.Context, restaurantID uuid.UUID, f RatingFilters) ([]models.Rating, error)
	GetRatingByUser(ctx context.Context, restaurantID uuid.UUID, pseudonymID string) (*models.Rating, error)
	CreateRating(ctx context.Context, r *models.Rating) (uuid.UUID, error)
	UpdateRating(ctx context.Context, id uuid.UUID, patch models.RatingPatch) (*models.Rating, error)
	UpdateRestaurantSummary(ctx context.Context, restaurantID uuid.UUID, s models.RestaurantSummary) error
	GetDuplicateGuard(ctx context.Context, pseudonymID string, restaurantID uuid.UUID) (*models.DuplicateGuard, error)
	UpsertDuplicateGuard(ctx context.Context, g *models.DuplicateGuard) error
}

// ChangeOp describes the kind of rating mutation
type ChangeOp string

const (
	ChangeCreate ChangeOp = "create"
	ChangeUpdate ChangeOp = "update"
)

// Change is one rating-mutation notification
type Change struct {
	RestaurantID uuid.UUID `json:"restaurant_id"`
	RatingID     uuid.UUID `json:"rating_id"`
	Op           ChangeOp  `json:"op"`
	At           time.Time `json:"at"`
}
