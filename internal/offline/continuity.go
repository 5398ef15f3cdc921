package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ovillere/dinerate/internal/aggregate"
	"github.com/ovillere/dinerate/internal/config"
	"github.com/ovillere/dinerate/internal/logging"
	"github.com/ovillere/dinerate/internal/models"
	"github.com/ovillere/dinerate/internal/monitoring"
	"github.com/ovillere/dinerate/internal/store"
)

// drainBatchSize bounds how many queue entries one synchronize cycle
// loads at a time.
const drainBatchSize = 64

// Continuity serves stale-but-usable aggregates and queues rating
// writes while the network path is down, then reconciles on reconnect.
type Continuity struct {
	engine  *aggregate.Engine
	ratings store.Ratings
	local   *Store
	policy  *ConnectivityPolicy
	cfg     *config.OfflineConfig
	aggCfg  *config.AggregationConfig
	logger  zerolog.Logger

	// syncMu serializes synchronize cycles so the queue drains strictly
	// in enqueue order.
	syncMu sync.Mutex
}

// NewContinuity wires the offline continuity layer
func NewContinuity(engine *aggregate.Engine, ratings store.Ratings, local *Store,
	policy *ConnectivityPolicy, cfg *config.OfflineConfig, aggCfg *config.AggregationConfig) *Continuity {
	return &Continuity{
		engine:  engine,
		ratings: ratings,
		local:   local,
		policy:  policy,
		cfg:     cfg,
		aggCfg:  aggCfg,
		logger:  logging.NewLogger("offline"),
	}
}

// GetAggregate resolves an aggregate through the connectivity policy:
// live computation when reachable, then the unexpired local cache, then
// a best-effort recompute from locally queued ratings, then the zero
// aggregate. Offline results are explicitly flagged.
func (c *Continuity) GetAggregate(ctx context.Context, restaurantID uuid.UUID, force bool) (models.Aggregate, error) {
	if c.policy.ShouldTryLive() {
		v, err := c.policy.Execute(func() (any, error) {
			return c.engine.Compute(ctx, restaurantID, force)
		})
		if err == nil {
			agg := v.(models.Aggregate)
			c.Mirror(agg)
			return agg, nil
		}
		c.logger.Warn().Err(err).
			Str("restaurant_id", restaurantID.String()).
			Msg("Live aggregation failed, falling back to offline cache")
	}

	monitoring.Get().OfflineCacheServes.Inc()

	if cached, err := c.local.GetAggregate(restaurantID); err == nil {
		cached.IsFromOfflineCache = true
		return *cached, nil
	} else if !errors.Is(err, ErrNotFound) {
		c.logger.Warn().Err(err).Msg("Offline cache read failed")
	}

	// Best effort from the local log of offline submissions.
	if local, err := c.local.RatingsFor(restaurantID); err == nil && len(local) > 0 {
		agg := aggregate.ComputeStats(restaurantID, local, c.aggCfg.HalfLife, time.Now())
		agg.IsFromOfflineCache = true
		agg.Degraded = true
		return agg, nil
	}

	agg := models.ZeroAggregate(restaurantID)
	agg.IsFromOfflineCache = true
	return agg, nil
}

// SubmitOffline appends the rating to the local log and enqueues its
// sync operation. It never attempts the network write itself.
func (c *Continuity) SubmitOffline(_ context.Context, r models.Rating) error {
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

	if err := c.local.AppendRating(r); err != nil {
		return err
	}
	if err := c.local.Enqueue(SyncOp{Op: store.ChangeCreate, Rating: r, EnqueuedAt: now}); err != nil {
		return err
	}

	c.updateQueueGauge()
	return nil
}

// Synchronize drains the sync queue strictly in enqueue order. An entry
// is removed only after its persistence write succeeds; the first
// failure ends the cycle with the entry retained for the next one.
// Delivery is at-least-once; idempotence comes from update-vs-create
// semantics on the persistence side.
func (c *Continuity) Synchronize(ctx context.Context) (drained int, err error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	defer c.updateQueueGauge()

	for {
		batch, err := c.local.NextBatch(drainBatchSize)
		if err != nil {
			return drained, err
		}
		if len(batch) == 0 {
			return drained, nil
		}

		for _, entry := range batch {
			if err := c.apply(ctx, entry.Op); err != nil {
				monitoring.Get().OfflineSyncFailed.Inc()
				c.logger.Warn().Err(err).
					Str("rating_id", entry.Op.Rating.ID.String()).
					Msg("Sync write failed, entry retained for retry")
				return drained, err
			}
			if err := c.local.DeleteEntry(entry.Key); err != nil {
				return drained, err
			}
			monitoring.Get().OfflineSyncDrained.Inc()
			drained++
		}
	}
}

// apply performs one queued operation's real persistence write. A
// rating the identity already holds for the restaurant becomes an
// overwrite, mirroring the gate's update-vs-create decision.
func (c *Continuity) apply(ctx context.Context, op SyncOp) error {
	existing, err := c.ratings.GetRatingByUser(ctx, op.Rating.RestaurantID, op.Rating.PseudonymID)
	if err != nil && !errors.Is(err, store.ErrRatingNotFound) {
		return err
	}

	if existing != nil {
		_, err = c.ratings.UpdateRating(ctx, existing.ID, models.RatingPatch{
			Overall:   op.Rating.Overall,
			Taste:     op.Rating.Taste,
			Price:     op.Rating.Price,
			Ambiance:  op.Rating.Ambiance,
			Service:   op.Rating.Service,
			Comment:   op.Rating.Comment,
			PhotoURLs: op.Rating.PhotoURLs,
		})
		return err
	}

	_, err = c.ratings.CreateRating(ctx, &op.Rating)
	return err
}

// SetOnline records a connectivity transition; a reconnect kicks off a
// synchronize cycle in the background.
func (c *Continuity) SetOnline(online bool) {
	wasOnline := c.policy.Online()
	c.policy.SetOnline(online)

	if online && !wasOnline {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if n, err := c.Synchronize(ctx); err != nil {
				c.logger.Warn().Err(err).Int("drained", n).Msg("Reconnect synchronize incomplete")
			} else if n > 0 {
				c.logger.Info().Int("drained", n).Msg("Reconnect synchronize complete")
			}
		}()
	}
}

// Online reports the policy's current connectivity view
func (c *Continuity) Online() bool {
	return c.policy.Online()
}

// Mirror caches a live aggregate locally for resilience; best effort
func (c *Continuity) Mirror(agg models.Aggregate) {
	if err := c.local.PutAggregate(agg, c.cfg.CacheTTL); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to mirror aggregate to offline cache")
	}
}

func (c *Continuity) updateQueueGauge() {
	if depth, err := c.local.QueueDepth(); err == nil {
		monitoring.Get().OfflineQueueDepth.Set(float64(depth))
	}
}
