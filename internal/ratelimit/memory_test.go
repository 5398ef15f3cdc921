package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovillere/dinerate/internal/config"
)

func testRateLimitConfig() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		BurstLimit:  3,
		Window:      time.Minute,
		Cooldown:    5 * time.Minute,
		MinInterval: 2 * time.Second,
		GlobalLimit: 120,
	}
}

// clock is a manually advanced test clock
type clock struct {
	t time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg *config.RateLimitConfig) (*MemoryLimiter, *clock) {
	l := NewMemoryLimiter(cfg)
	c := newClock()
	l.SetClock(c.now)
	return l, c
}

func TestMemoryLimiter_AllowsSpacedSubmissions(t *testing.T) {
	l, c := newTestLimiter(testRateLimitConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "id-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "submission %d should pass", i)
		c.advance(21 * time.Second)
	}
}

func TestMemoryLimiter_MinIntervalEnforced(t *testing.T) {
	l, c := newTestLimiter(testRateLimitConfig())
	ctx := context.Background()

	d, err := l.Allow(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	c.advance(time.Second)
	d, err = l.Allow(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonTooFast, d.Reason)
	assert.Equal(t, time.Second, d.RetryAfter)

	c.advance(time.Second)
	d, err = l.Allow(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_BurstTripsCooldown(t *testing.T) {
	l, c := newTestLimiter(testRateLimitConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "id-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		c.advance(3 * time.Second)
	}

	d, err := l.Allow(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBurst, d.Reason)
	assert.Equal(t, 5*time.Minute, d.RetryAfter)

	// Still inside the cooldown even after the sliding window empties.
	c.advance(2 * time.Minute)
	d, err = l.Allow(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBlocked, d.Reason)
	assert.Equal(t, 3*time.Minute, d.RetryAfter)

	c.advance(3*time.Minute + time.Second)
	d, err = l.Allow(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_WindowSlides(t *testing.T) {
	l, c := newTestLimiter(testRateLimitConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "id-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		c.advance(25 * time.Second)
	}

	// 75 seconds after the first entry; only two remain in the window.
	d, err := l.Allow(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_IdentitiesIsolated(t *testing.T) {
	l, c := newTestLimiter(testRateLimitConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ctx, "noisy")
		require.NoError(t, err)
		c.advance(3 * time.Second)
	}
	d, err := l.Allow(ctx, "noisy")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = l.Allow(ctx, "quiet")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_GlobalLimit(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.GlobalLimit = 2
	cfg.BurstLimit = 10
	cfg.MinInterval = 0
	l, _ := newTestLimiter(cfg)
	ctx := context.Background()

	d, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Allow(ctx, "c")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonGlobalBurst, d.Reason)
}

func TestMemoryLimiter_ResetClearsState(t *testing.T) {
	l, c := newTestLimiter(testRateLimitConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ctx, "id-1")
		require.NoError(t, err)
		c.advance(3 * time.Second)
	}
	d, err := l.Allow(ctx, "id-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, l.Reset(ctx, "id-1"))

	d, err = l.Allow(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_RemainingCountsDown(t *testing.T) {
	l, c := newTestLimiter(testRateLimitConfig())
	ctx := context.Background()

	d, err := l.Allow(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Remaining)

	c.advance(3 * time.Second)
	d, err = l.Allow(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Remaining)
}
