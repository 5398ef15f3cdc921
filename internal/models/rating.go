package models

import (
	"time"

	"github.com/google/uuid"
)

// ModerationStatus represents the moderation state of a rating
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

// Rating represents a persisted restaurant rating. A restaurant's
// visible ratings are exactly those with Status approved and
// IsReported false.
type Rating struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	RestaurantID uuid.UUID        `json:"restaurant_id" db:"restaurant_id"`
	PseudonymID  string           `json:"pseudonym_id" db:"pseudonym_id"`
	DisplayName  string           `json:"display_name" db:"display_name"`
	Overall      float64          `json:"overall" db:"overall"`
	Taste        *float64         `json:"taste,omitempty" db:"taste"`
	Price        *float64         `json:"price,omitempty" db:"price"`
	Ambiance     *float64         `json:"ambiance,omitempty" db:"ambiance"`
	Service      *float64         `json:"service,omitempty" db:"service"`
	Comment      *string          `json:"comment,omitempty" db:"comment"`
	PhotoURLs    []string         `json:"photo_urls,omitempty" db:"photo_urls"`
	Status       ModerationStatus `json:"status" db:"status"`
	IsReported   bool             `json:"is_reported" db:"is_reported"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// SubScores returns the supplied per-criterion scores in a fixed order,
// skipping absent ones.
func (r *Rating) SubScores() []float64 {
	var scores []float64
	for _, p := range []*float64{r.Taste, r.Price, r.Ambiance, r.Service} {
		if p != nil {
			scores = append(scores, *p)
		}
	}
	return scores
}

// RatingSubmission is the typed, normalized input flowing through the
// validation gate. It is produced by a dedicated parse step; raw request
// payloads never reach the pipeline.
type RatingSubmission struct {
	RestaurantID uuid.UUID
	Identity     Identity
	Signals      DeviceSignals
	Overall      float64
	Taste        *float64
	Price        *float64
	Ambiance     *float64
	Service      *float64
	Comment      string
	PhotoURLs    []string
	SubmittedAt  time.Time
	ClientIP     string
	RequestID    string
}

// SubScores returns the supplied sub-scores, skipping absent ones.
func (s *RatingSubmission) SubScores() []float64 {
	var scores []float64
	for _, p := range []*float64{s.Taste, s.Price, s.Ambiance, s.Service} {
		if p != nil {
			scores = append(scores, *p)
		}
	}
	return scores
}

// GateResult is the validation gate's verdict on a submission.
type GateResult struct {
	Accepted         bool       `json:"accepted"`
	Reasons          []string   `json:"reasons,omitempty"`
	Stage            string     `json:"stage,omitempty"`
	IsUpdate         bool       `json:"is_update"`
	ExistingRatingID *uuid.UUID `json:"existing_rating_id,omitempty"`
}

// RatingPatch carries the fields an update submission may overwrite.
type RatingPatch struct {
	Overall   float64
	Taste     *float64
	Price     *float64
	Ambiance  *float64
	Service   *float64
	Comment   *string
	PhotoURLs []string
}
