package propagate

import (
	"context"
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

// Observer receives freshly recomputed aggregates
type Observer func(models.Aggregate)

// phase of the per-restaurant state machine
type phase int

const (
	phaseIdle phase = iota
	phasePending
	phaseRecomputing
)

type restState struct {
	phase phase
	timer *time.Timer
	// rerun queues exactly one follow-up recomputation when a trigger
	// arrives mid-recompute. Never run concurrently, never dropped.
	rerun   bool
	dirtyAt time.Time
	cleanAt time.Time
}

// Propagator watches the store's change feed, debounces per restaurant
// and fans recomputed aggregates out to observers. One feed
// subscription lives for the propagator's lifetime and is torn down by
// Close.
type Propagator struct {
	engine *aggregate.Engine
	cfg    *config.PropagationConfig
	logger zerolog.Logger

	mu       sync.Mutex
	states   map[uuid.UUID]*restState
	byRest   map[uuid.UUID]map[int]Observer
	wildcard map[int]Observer
	nextObs  int

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// New creates a propagator and subscribes it to the feed
func New(engine *aggregate.Engine, feed *store.ChangeFeed, cfg *config.PropagationConfig) *Propagator {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Propagator{
		engine:   engine,
		cfg:      cfg,
		logger:   logging.NewLogger("propagate"),
		states:   make(map[uuid.UUID]*restState),
		byRest:   make(map[uuid.UUID]map[int]Observer),
		wildcard: make(map[int]Observer),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.unsubscribe = feed.Subscribe(p.onChanges)

	if cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop()
	}

	return p
}

// Subscribe registers an observer for one restaurant. Pass uuid.Nil to
// observe every restaurant. The returned handle unsubscribes.
func (p *Propagator) Subscribe(restaurantID uuid.UUID, obs Observer) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextObs
	p.nextObs++

	if restaurantID == uuid.Nil {
		p.wildcard[id] = obs
	} else {
		if p.byRest[restaurantID] == nil {
			p.byRest[restaurantID] = make(map[int]Observer)
		}
		p.byRest[restaurantID][id] = obs
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.wildcard, id)
		if m := p.byRest[restaurantID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(p.byRest, restaurantID)
			}
		}
	}
}

// onChanges receives a mutation batch from the feed, extracts the
// distinct affected restaurants and arms or re-arms their debounce
// timers. A timer reset collapses a burst into one recomputation.
func (p *Propagator) onChanges(changes []store.Change) {
	seen := make(map[uuid.UUID]struct{}, len(changes))
	for _, c := range changes {
		if _, ok := seen[c.RestaurantID]; ok {
			continue
		}
		seen[c.RestaurantID] = struct{}{}
		p.trigger(c.RestaurantID)
	}
}

func (p *Propagator) trigger(restaurantID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		return
	}

	st := p.states[restaurantID]
	if st == nil {
		st = &restState{}
		p.states[restaurantID] = st
	}
	st.dirtyAt = time.Now()

	switch st.phase {
	case phaseIdle:
		st.phase = phasePending
		st.timer = time.AfterFunc(p.cfg.Debounce, func() { p.fire(restaurantID) })
	case phasePending:
		// Re-arming cancels the previous timer rather than stacking.
		st.timer.Reset(p.cfg.Debounce)
		monitoring.Get().DebounceCollapses.Inc()
	case phaseRecomputing:
		st.rerun = true
	}
}

// fire runs one recomputation for a restaurant and fans the result out.
// At most one recomputation per restaurant is in flight at a time.
func (p *Propagator) fire(restaurantID uuid.UUID) {
	p.mu.Lock()
	st := p.states[restaurantID]
	if st == nil || p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	if st.phase == phaseRecomputing {
		// A stale timer fired after a Reset raced it past the debounce.
		// The running recomputation picks the work up via the rerun bit.
		st.rerun = true
		p.mu.Unlock()
		return
	}
	st.phase = phaseRecomputing
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	agg, err := p.engine.Compute(ctx, restaurantID, true)
	cancel()

	if err != nil {
		p.logger.Error().Err(err).
			Str("restaurant_id", restaurantID.String()).
			Msg("Recomputation failed")
	} else {
		p.fanOut(restaurantID, agg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		st.cleanAt = time.Now()
	}
	if st.rerun {
		st.rerun = false
		st.phase = phasePending
		st.timer = time.AfterFunc(p.cfg.Debounce, func() { p.fire(restaurantID) })
		return
	}
	st.phase = phaseIdle
}

// fanOut delivers the aggregate to restaurant observers and wildcard
// observers. A panicking observer is isolated; the rest still run.
func (p *Propagator) fanOut(restaurantID uuid.UUID, agg models.Aggregate) {
	p.mu.Lock()
	observers := make([]Observer, 0, len(p.byRest[restaurantID])+len(p.wildcard))
	for _, obs := range p.byRest[restaurantID] {
		observers = append(observers, obs)
	}
	for _, obs := range p.wildcard {
		observers = append(observers, obs)
	}
	p.mu.Unlock()

	for _, obs := range observers {
		p.notify(obs, agg)
	}
	monitoring.Get().FanOutsTotal.Inc()
}

func (p *Propagator) notify(obs Observer, agg models.Aggregate) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).
				Str("restaurant_id", agg.RestaurantID.String()).
				Msg("Observer panicked")
		}
	}()
	obs(agg)
}

// sweepLoop periodically force-refreshes restaurants whose last change
// is newer than their last successful recomputation. Safety net for
// missed or dropped notifications.
func (p *Propagator) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Propagator) sweep() {
	p.mu.Lock()
	var stale []uuid.UUID
	for id, st := range p.states {
		if st.phase == phaseIdle && st.dirtyAt.After(st.cleanAt) {
			stale = append(stale, id)
		}
	}
	p.mu.Unlock()

	for _, id := range stale {
		monitoring.Get().SweepRecomputes.Inc()
		p.trigger(id)
	}
}

// Close tears down the feed subscription, pending timers and the sweep
// goroutine. Safe to call more than once.
func (p *Propagator) Close() {
	p.closeOnce.Do(func() {
		p.unsubscribe()
		p.cancel()

		p.mu.Lock()
		for _, st := range p.states {
			if st.timer != nil {
				st.timer.Stop()
			}
		}
		p.mu.Unlock()

		p.wg.Wait()
		p.logger.Info().Msg("Propagator closed")
	})
}
