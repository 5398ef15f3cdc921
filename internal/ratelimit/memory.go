package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ovillere/dinerate/internal/config"
)

// MemoryLimiter is an in-process limiter with the same semantics as the
// redis implementation. Used in tests and on the offline path where no
// redis is reachable. State resets on restart, which is acceptable for
// a deterrent layer.
type MemoryLimiter struct {
	mu      sync.Mutex
	cfg     *config.RateLimitConfig
	perID   map[string][]time.Time
	global  []time.Time
	blocked map[string]time.Time
	now     func() time.Time
}

// NewMemoryLimiter creates an isolated in-memory limiter
func NewMemoryLimiter(cfg *config.RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg,
		perID:   make(map[string][]time.Time),
		blocked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the clock, for tests
func (m *MemoryLimiter) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Allow implements Limiter
func (m *MemoryLimiter) Allow(_ context.Context, pseudonymID string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	window := windowOrDefault(m.cfg)

	if until, ok := m.blocked[pseudonymID]; ok {
		if now.Before(until) {
			return denied(ReasonBlocked, until.Sub(now)), nil
		}
		delete(m.blocked, pseudonymID)
	}

	entries := prune(m.perID[pseudonymID], now.Add(-window))
	m.perID[pseudonymID] = entries
	m.global = prune(m.global, now.Add(-window))

	if m.cfg.MinInterval > 0 && len(entries) > 0 {
		if since := now.Sub(entries[len(entries)-1]); since < m.cfg.MinInterval {
			return denied(ReasonTooFast, m.cfg.MinInterval-since), nil
		}
	}

	if len(entries) >= m.cfg.BurstLimit {
		m.blocked[pseudonymID] = now.Add(m.cfg.Cooldown)
		return denied(ReasonBurst, m.cfg.Cooldown), nil
	}

	if m.cfg.GlobalLimit > 0 && len(m.global) >= m.cfg.GlobalLimit {
		return denied(ReasonGlobalBurst, window), nil
	}

	m.perID[pseudonymID] = append(entries, now)
	m.global = append(m.global, now)

	remaining := int64(m.cfg.BurstLimit - len(entries) - 1)
	if remaining < 0 {
		remaining = 0
	}
	return allowed(remaining), nil
}

// Reset implements Limiter
func (m *MemoryLimiter) Reset(_ context.Context, pseudonymID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.perID, pseudonymID)
	delete(m.blocked, pseudonymID)
	return nil
}

func prune(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	return entries[i:]
}
