package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ovillere/dinerate/internal/config"
	"github.com/ovillere/dinerate/internal/logging"
	"github.com/ovillere/dinerate/internal/models"
	"github.com/ovillere/dinerate/internal/monitoring"
	"github.com/ovillere/dinerate/internal/ratelimit"
	"github.com/ovillere/dinerate/internal/store"
)

// Gate stages, in execution order
const (
	StageSchema    = "schema"
	StageRateLimit = "rate_limit"
	StageDuplicate = "duplicate"
	StageFraud     = "fraud"
	StageBusiness  = "business"
)

// Score bounds
const (
	minOverall  = 1.0
	maxOverall  = 5.0
	minSubScore = 0.0
	maxSubScore = 5.0
)

// Gate runs every incoming rating submission through five ordered
// checks: schema, rate limiting, duplicate detection, fraud heuristics
// and business rules. All must pass before the write proceeds.
type Gate struct {
	ratings store.Ratings
	limiter ratelimit.Limiter
	fraud   *config.FraudConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// NewGate creates a validation gate. The limiter is injected so tests
// and the offline path can supply isolated instances.
func NewGate(ratings store.Ratings, limiter ratelimit.Limiter, fraud *config.FraudConfig) *Gate {
	return &Gate{
		ratings: ratings,
		limiter: limiter,
		fraud:   fraud,
		logger:  logging.NewLogger("validation"),
		now:     time.Now,
	}
}

// SetClock overrides the clock, for tests
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// Validate runs the five stages in order and stops at the first failing
// one. The returned error is reserved for transient infrastructure
// failures; every policy rejection comes back as a non-accepted result.
func (g *Gate) Validate(ctx context.Context, sub models.RatingSubmission) (models.GateResult, error) {
	if reasons := g.checkSchema(sub); len(reasons) > 0 {
		return g.reject(sub, StageSchema, reasons, "validation_failed"), nil
	}

	if res, ok := g.checkRateLimit(ctx, sub); !ok {
		return res, nil
	}

	dupRes, err := g.checkDuplicate(ctx, sub)
	if err != nil {
		return models.GateResult{}, err
	}
	if !dupRes.Accepted {
		return dupRes, nil
	}

	if reasons := g.checkFraud(ctx, sub); len(reasons) > 0 {
		return g.reject(sub, StageFraud, reasons, "fraud_suspicion"), nil
	}

	if reasons := g.checkBusinessRules(sub); len(reasons) > 0 {
		return g.reject(sub, StageBusiness, reasons, "business_rule_violation"), nil
	}

	if err := g.touchGuard(ctx, sub); err != nil {
		// Guard bookkeeping is durable-defense maintenance, not a
		// reason to turn away an otherwise valid submission.
		g.logger.Warn().Err(err).Msg("Failed to update duplicate guard")
	}

	monitoring.Get().GateDecisions.WithLabelValues("accepted", "").Inc()
	dupRes.Accepted = true
	return dupRes, nil
}

// ValidateOffline runs the stages that need no live persistence:
// schema, rate limiting, fraud heuristics and business rules. The
// store-backed duplicate check and guard bookkeeping are skipped; the
// sync drain's update-vs-create resolution restores idempotence when
// the queued write lands.
func (g *Gate) ValidateOffline(ctx context.Context, sub models.RatingSubmission) models.GateResult {
	if reasons := g.checkSchema(sub); len(reasons) > 0 {
		return g.reject(sub, StageSchema, reasons, "validation_failed")
	}

	if res, ok := g.checkRateLimit(ctx, sub); !ok {
		return res
	}

	if reasons := g.checkFraud(ctx, sub); len(reasons) > 0 {
		return g.reject(sub, StageFraud, reasons, "fraud_suspicion")
	}

	if reasons := g.checkBusinessRules(sub); len(reasons) > 0 {
		return g.reject(sub, StageBusiness, reasons, "business_rule_violation")
	}

	monitoring.Get().GateDecisions.WithLabelValues("accepted", "").Inc()
	return models.GateResult{Accepted: true}
}

// checkSchema is stage 1: required fields, ranges, lengths and
// overall/sub-score consistency.
func (g *Gate) checkSchema(sub models.RatingSubmission) []string {
	var reasons []string

	if sub.RestaurantID == uuid.Nil {
		reasons = append(reasons, "restaurant id is required")
	}
	if sub.Identity.PseudonymID == "" {
		reasons = append(reasons, "identity is required")
	}
	if sub.Overall < minOverall || sub.Overall > maxOverall {
		reasons = append(reasons, fmt.Sprintf("overall score must be between %.0f and %.0f", minOverall, maxOverall))
	}
	for name, p := range map[string]*float64{
		"taste": sub.Taste, "price": sub.Price, "ambiance": sub.Ambiance, "service": sub.Service,
	} {
		if p != nil && (*p < minSubScore || *p > maxSubScore) {
			reasons = append(reasons, fmt.Sprintf("%s score must be between %.0f and %.0f", name, minSubScore, maxSubScore))
		}
	}
	if utf8.RuneCountInString(sub.Comment) > g.fraud.MaxCommentLen {
		reasons = append(reasons, fmt.Sprintf("comment must be at most %d characters", g.fraud.MaxCommentLen))
	}

	// Overall must not diverge from the supplied sub-scores by more
	// than the tolerance.
	if scores := sub.SubScores(); len(scores) > 0 {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		mean := sum / float64(len(scores))
		if math.Abs(sub.Overall-mean) > g.fraud.ScoreTolerance {
			reasons = append(reasons, "overall score is inconsistent with the supplied sub-scores")
		}
	}

	return reasons
}

// checkRateLimit is stage 2
func (g *Gate) checkRateLimit(ctx context.Context, sub models.RatingSubmission) (models.GateResult, bool) {
	decision, err := g.limiter.Allow(ctx, sub.Identity.PseudonymID)
	if err != nil {
		// Limiter implementations fail open themselves; an error here
		// is unexpected but still must not block the pipeline.
		g.logger.Error().Err(err).Msg("Rate limiter error, allowing request")
		return models.GateResult{}, true
	}
	if decision.Allowed {
		return models.GateResult{}, true
	}

	reason := decision.Reason
	if decision.RetryAfter > 0 {
		reason = fmt.Sprintf("%s (retry in %s)", reason, decision.RetryAfter.Round(time.Second))
	}
	return g.reject(sub, StageRateLimit, []string{reason}, "rate_limited"), false
}

// checkDuplicate is stage 3: a prior rating younger than the window is
// rejected; an older one turns the submission into an update.
func (g *Gate) checkDuplicate(ctx context.Context, sub models.RatingSubmission) (models.GateResult, error) {
	existing, err := g.ratings.GetRatingByUser(ctx, sub.RestaurantID, sub.Identity.PseudonymID)
	if err != nil {
		if errors.Is(err, store.ErrRatingNotFound) {
			return models.GateResult{Accepted: true}, nil
		}
		return models.GateResult{}, fmt.Errorf("duplicate check: %w", err)
	}

	age := g.now().Sub(existing.UpdatedAt)
	if age < g.fraud.DuplicateWindow {
		wait := g.fraud.DuplicateWindow - age
		hours := int(math.Ceil(wait.Hours()))
		reason := fmt.Sprintf("you already rated this restaurant; you can update your rating in %d hour(s)", hours)
		return g.reject(sub, StageDuplicate, []string{reason}, "duplicate_rating"), nil
	}

	// Older than the window: idempotent re-rating, overwrite semantics.
	id := existing.ID
	return models.GateResult{Accepted: true, IsUpdate: true, ExistingRatingID: &id}, nil
}

// touchGuard refreshes the (identity, restaurant) tracking record
func (g *Gate) touchGuard(ctx context.Context, sub models.RatingSubmission) error {
	guard, err := g.ratings.GetDuplicateGuard(ctx, sub.Identity.PseudonymID, sub.RestaurantID)
	if err != nil {
		return err
	}
	if guard == nil {
		guard = &models.DuplicateGuard{
			PseudonymID:  sub.Identity.PseudonymID,
			RestaurantID: sub.RestaurantID,
		}
	}
	guard.HasReviewed = true
	guard.ReviewCount++
	guard.LastInteractionAt = g.now()
	return g.ratings.UpsertDuplicateGuard(ctx, guard)
}

// reject records the decision, emits a sanitized security event and
// builds the non-accepted result. Audit logging is best-effort.
func (g *Gate) reject(sub models.RatingSubmission, stage string, reasons []string, eventType string) models.GateResult {
	monitoring.Get().GateDecisions.WithLabelValues("rejected", stage).Inc()
	monitoring.Get().SecurityEvents.WithLabelValues(eventType).Inc()
	if stage == StageRateLimit {
		monitoring.Get().RateLimitHits.Inc()
	}

	logging.LogSecurityEvent(logging.SecurityEvent{
		EventType:    eventType,
		PseudonymID:  sub.Identity.PseudonymID,
		RestaurantID: sub.RestaurantID.String(),
		ClientIP:     sub.ClientIP,
		RequestID:    sub.RequestID,
		Stage:        stage,
		Details:      fmt.Sprintf("%v; comment=%q", reasons, logging.SanitizeForLog(sub.Comment, 80)),
	})

	return models.GateResult{
		Accepted: false,
		Stage:    stage,
		Reasons:  reasons,
	}
}
