package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ovillere/dinerate/internal/logging"
	"github.com/ovillere/dinerate/internal/models"
)

// PostgresStore implements Ratings on a pgx connection pool and
// publishes every mutation on its change feed.
type PostgresStore struct {
	db     *pgxpool.Pool
	feed   *ChangeFeed
	logger zerolog.Logger
}

// NewPostgresStore creates a postgres-backed rating store
func NewPostgresStore(db *pgxpool.Pool, feed *ChangeFeed) *PostgresStore {
	return &PostgresStore{
		db:     db,
		feed:   feed,
		logger: logging.NewLogger("store"),
	}
}

// Feed returns the change feed mutations are published on
func (s *PostgresStore) Feed() *ChangeFeed {
	return s.feed
}

const ratingColumns = `id, restaurant_id, pseudonym_id, display_name, overall,
	taste, price, ambiance, service, comment, photo_urls, status, is_reported,
	created_at, updated_at`

func scanRating(row pgx.Row) (*models.Rating, error) {
	var r models.Rating
	err := row.Scan(
		&r.ID, &r.RestaurantID, &r.PseudonymID, &r.DisplayName, &r.Overall,
		&r.Taste, &r.Price, &r.Ambiance, &r.Service, &r.Comment, &r.PhotoURLs,
		&r.Status, &r.IsReported, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// QueryRatings returns a restaurant's ratings. The zero filter selects
// the visible set (approved, not reported), ordered oldest first.
func (s *PostgresStore) QueryRatings(ctx context.Context, restaurantID uuid.UUID, f RatingFilters) ([]models.Rating, error) {
	status := f.Status
	if status == "" {
		status = models.ModerationApproved
	}

	query := fmt.Sprintf(`SELECT %s FROM ratings
		WHERE restaurant_id = $1 AND status = $2`, ratingColumns)
	args := []any{restaurantID, status}

	if !f.IncludeReported {
		query += ` AND is_reported = false`
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	var ratings []models.Rating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		ratings = append(ratings, *r)
	}
	return ratings, rows.Err()
}

// GetRatingByUser returns the identity's rating of a restaurant, or
// ErrRatingNotFound.
func (s *PostgresStore) GetRatingByUser(ctx context.Context, restaurantID uuid.UUID, pseudonymID string) (*models.Rating, error) {
	query := fmt.Sprintf(`SELECT %s FROM ratings
		WHERE restaurant_id = $1 AND pseudonym_id = $2`, ratingColumns)

	r, err := scanRating(s.db.QueryRow(ctx, query, restaurantID, pseudonymID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRatingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rating by user: %w", err)
	}
	return r, nil
}

// CreateRating inserts a rating and publishes a create notification
func (s *PostgresStore) CreateRating(ctx context.Context, r *models.Rating) (uuid.UUID, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = models.ModerationApproved
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO ratings (id, restaurant_id, pseudonym_id, display_name,
			overall, taste, price, ambiance, service, comment, photo_urls,
			status, is_reported, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.RestaurantID, r.PseudonymID, r.DisplayName,
		r.Overall, r.Taste, r.Price, r.Ambiance, r.Service, r.Comment, r.PhotoURLs,
		r.Status, r.IsReported, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create rating: %w", err)
	}

	s.feed.Publish(Change{
		RestaurantID: r.RestaurantID,
		RatingID:     r.ID,
		Op:           ChangeCreate,
		At:           now,
	})
	return r.ID, nil
}

// UpdateRating overwrites an existing rating's scores and comment,
// publishes an update notification and returns the fresh row.
func (s *PostgresStore) UpdateRating(ctx context.Context, id uuid.UUID, patch models.RatingPatch) (*models.Rating, error) {
	now := time.Now().UTC()

	query := fmt.Sprintf(`UPDATE ratings
		SET overall = $2, taste = $3, price = $4, ambiance = $5, service = $6,
			comment = $7, photo_urls = $8, updated_at = $9
		WHERE id = $1
		RETURNING %s`, ratingColumns)

	r, err := scanRating(s.db.QueryRow(ctx, query, id,
		patch.Overall, patch.Taste, patch.Price, patch.Ambiance, patch.Service,
		patch.Comment, patch.PhotoURLs, now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRatingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update rating: %w", err)
	}

	s.feed.Publish(Change{
		RestaurantID: r.RestaurantID,
		RatingID:     r.ID,
		Op:           ChangeUpdate,
		At:           now,
	})
	return r, nil
}

// UpdateRestaurantSummary writes the denormalized aggregate back onto
// the restaurant row.
func (s *PostgresStore) UpdateRestaurantSummary(ctx context.Context, restaurantID uuid.UUID, sum models.RestaurantSummary) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE restaurants
		SET average_score = $2, weighted_average = $3, total_ratings = $4,
			summary_computed_at = $5
		WHERE id = $1`,
		restaurantID, sum.AverageScore, sum.WeightedAverage, sum.TotalRatings, sum.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("update restaurant summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRestaurantNotFound
	}
	return nil
}

// GetDuplicateGuard returns the tracking record for one (identity,
// restaurant) pair, or nil when the pair has never interacted.
func (s *PostgresStore) GetDuplicateGuard(ctx context.Context, pseudonymID string, restaurantID uuid.UUID) (*models.DuplicateGuard, error) {
	var g models.DuplicateGuard
	err := s.db.QueryRow(ctx, `
		SELECT pseudonym_id, restaurant_id, has_reviewed, review_count, last_interaction_at
		FROM duplicate_guards
		WHERE pseudonym_id = $1 AND restaurant_id = $2`,
		pseudonymID, restaurantID,
	).Scan(&g.PseudonymID, &g.RestaurantID, &g.HasReviewed, &g.ReviewCount, &g.LastInteractionAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get duplicate guard: %w", err)
	}
	return &g, nil
}

// UpsertDuplicateGuard creates or refreshes the tracking record
func (s *PostgresStore) UpsertDuplicateGuard(ctx context.Context, g *models.DuplicateGuard) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO duplicate_guards (pseudonym_id, restaurant_id, has_reviewed, review_count, last_interaction_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pseudonym_id, restaurant_id) DO UPDATE
		SET has_reviewed = EXCLUDED.has_reviewed,
			review_count = EXCLUDED.review_count,
			last_interaction_at = EXCLUDED.last_interaction_at`,
		g.PseudonymID, g.RestaurantID, g.HasReviewed, g.ReviewCount, g.LastInteractionAt,
	)
	if err != nil {
		return fmt.Errorf("upsert duplicate guard: %w", err)
	}
	return nil
}
