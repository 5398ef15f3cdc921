package ratelimit

import (
	"context"
	"time"

	"github.com/ovillere/dinerate/internal/config"
)

// Deterrence reasons surfaced to the caller
const (
	ReasonBlocked     = "identity is in cooldown after exceeding the burst limit"
	ReasonTooFast     = "submissions must be at least the minimum interval apart"
	ReasonBurst       = "too many submissions in the window"
	ReasonGlobalBurst = "service-wide submission limit reached"
)

// Decision is the outcome of a rate-limit check
type Decision struct {
	Allowed    bool
	Reason     string
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter enforces per-identity and global sliding-window limits plus a
// minimum inter-submission interval. Implementations are constructor-
// injected so tests can run isolated instances. State is a deterrent
// layer only; the duplicate guard in persistence is the durable defense.
type Limiter interface {
	// Allow records one submission attempt for the identity and decides
	// whether it may proceed.
	Allow(ctx context.Context, pseudonymID string) (Decision, error)
	// Reset clears all limiter state for one identity.
	Reset(ctx context.Context, pseudonymID string) error
}

func allowed(remaining int64) Decision {
	return Decision{Allowed: true, Remaining: remaining}
}

func denied(reason string, retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}
}

func windowOrDefault(cfg *config.RateLimitConfig) time.Duration {
	if cfg.Window <= 0 {
		return time.Minute
	}
	return cfg.Window
}
