package offline

import (
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ovillere/dinerate/internal/logging"
)

// ConnectivityPolicy is the single strategy object the read and write
// paths consult, instead of scattering online/offline branching. It
// combines explicit connectivity signals with a circuit breaker over
// the live aggregation path.
type ConnectivityPolicy struct {
	online        atomic.Bool
	forcedOffline atomic.Bool
	breaker       *gobreaker.CircuitBreaker
}

// NewConnectivityPolicy creates a policy that starts online
func NewConnectivityPolicy() *ConnectivityPolicy {
	p := &ConnectivityPolicy{}
	p.online.Store(true)

	logger := logging.NewLogger("connectivity")
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "live-aggregate",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})
	return p
}

// SetOnline records a platform connectivity transition
func (p *ConnectivityPolicy) SetOnline(online bool) {
	p.online.Store(online)
}

// ForceOffline pins the policy offline regardless of connectivity
func (p *ConnectivityPolicy) ForceOffline(forced bool) {
	p.forcedOffline.Store(forced)
}

// Online reports the last known connectivity signal
func (p *ConnectivityPolicy) Online() bool {
	return p.online.Load() && !p.forcedOffline.Load()
}

// ShouldTryLive reports whether the live path is worth attempting
func (p *ConnectivityPolicy) ShouldTryLive() bool {
	return p.Online() && p.breaker.State() != gobreaker.StateOpen
}

// Execute runs the live path through the circuit breaker
func (p *ConnectivityPolicy) Execute(fn func() (any, error)) (any, error) {
	return p.breaker.Execute(fn)
}
