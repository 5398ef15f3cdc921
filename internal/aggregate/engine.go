package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ovillere/dinerate/internal/config"
	"github.com/ovillere/dinerate/internal/logging"
	"github.com/ovillere/dinerate/internal/models"
	"github.com/ovillere/dinerate/internal/monitoring"
	"github.com/ovillere/dinerate/internal/store"
)

type cacheEntry struct {
	agg       models.Aggregate
	expiresAt time.Time
}

// Engine computes rating aggregates with a short-lived per-restaurant
// cache. Concurrent recomputes for the same restaurant collapse into a
// single in-flight computation, so a forced-refresh race cannot write
// back divergent results.
type Engine struct {
	ratings store.Ratings
	cfg     *config.AggregationConfig
	logger  zerolog.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]cacheEntry

	group singleflight.Group
	now   func() time.Time
}

// NewEngine creates an aggregation engine
func NewEngine(ratings store.Ratings, cfg *config.AggregationConfig) *Engine {
	return &Engine{
		ratings: ratings,
		cfg:     cfg,
		cache:   make(map[uuid.UUID]cacheEntry),
		logger:  logging.NewLogger("aggregate"),
		now:     time.Now,
	}
}

// SetClock overrides the clock, for tests
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Compute returns the aggregate for a restaurant, from cache when fresh
// unless force is set. Zero ratings produce the well-defined zero
// aggregate, never an error.
func (e *Engine) Compute(ctx context.Context, restaurantID uuid.UUID, force bool) (models.Aggregate, error) {
	if !force {
		if agg, ok := e.cached(restaurantID); ok {
			monitoring.Get().AggregateCacheHits.Inc()
			return agg, nil
		}
		monitoring.Get().AggregateCacheMisses.Inc()
	}

	v, err, shared := e.group.Do(restaurantID.String(), func() (any, error) {
		return e.recompute(ctx, restaurantID)
	})
	if err != nil {
		return models.Aggregate{}, err
	}
	if shared {
		monitoring.Get().CoalescedRecomputes.Inc()
	}
	return v.(models.Aggregate), nil
}

// Invalidate drops the cache entry for a restaurant
func (e *Engine) Invalidate(restaurantID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, restaurantID)
}

func (e *Engine) cached(restaurantID uuid.UUID) (models.Aggregate, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.cache[restaurantID]
	if !ok || e.now().After(entry.expiresAt) {
		return models.Aggregate{}, false
	}
	return entry.agg, true
}

func (e *Engine) recompute(ctx context.Context, restaurantID uuid.UUID) (models.Aggregate, error) {
	started := e.now()

	ratings, err := e.ratings.QueryRatings(ctx, restaurantID, store.RatingFilters{})
	if err != nil {
		return models.Aggregate{}, err
	}

	agg := ComputeStats(restaurantID, ratings, e.cfg.HalfLife, started)

	// Denormalized read-optimization on the restaurant row. A failed
	// write-back degrades the result instead of failing it.
	err = e.ratings.UpdateRestaurantSummary(ctx, restaurantID, models.RestaurantSummary{
		AverageScore:    agg.AverageScore,
		WeightedAverage: agg.WeightedAverage,
		TotalRatings:    agg.TotalRatings,
		ComputedAt:      agg.ComputedAt,
	})
	if err != nil {
		e.logger.Warn().Err(err).
			Str("restaurant_id", restaurantID.String()).
			Msg("Summary write-back failed, returning degraded aggregate")
		agg.Degraded = true
	}

	e.mu.Lock()
	e.cache[restaurantID] = cacheEntry{agg: agg, expiresAt: e.now().Add(e.cfg.CacheTTL)}
	e.mu.Unlock()

	monitoring.Get().RecomputeDuration.Observe(time.Since(started).Seconds())
	monitoring.Get().RecomputesTotal.Inc()

	return agg, nil
}
