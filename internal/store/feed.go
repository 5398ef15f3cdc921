package store

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ovillere/dinerate/internal/logging"
)

// ChangeFeed is the ordered change-notification stream the store
// publishes rating mutations on. Delivery order matches publish order
// per feed; duplicate notifications are possible and consumers must
// recompute idempotently.
type ChangeFeed struct {
	mu     sync.Mutex
	subs   map[int]func([]Change)
	nextID int
	closed bool
	logger zerolog.Logger
}

// NewChangeFeed creates an empty change feed
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{
		subs:   make(map[int]func([]Change)),
		logger: logging.NewLogger("changefeed"),
	}
}

// Subscribe registers a callback for mutation batches and returns an
// unsubscribe handle. Callbacks run synchronously in publish order; a
// panicking subscriber is isolated from the others.
func (f *ChangeFeed) Subscribe(fn func([]Change)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// Publish delivers a mutation batch to all subscribers
func (f *ChangeFeed) Publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	fns := make([]func([]Change), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		f.deliver(fn, changes)
	}
}

func (f *ChangeFeed) deliver(fn func([]Change), changes []Change) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Msg("Change subscriber panicked")
		}
	}()
	fn(changes)
}

// Close drops all subscribers; further publishes are no-ops
func (f *ChangeFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = make(map[int]func([]Change))
}
