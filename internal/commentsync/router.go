package commentsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/baduk1/threadsync/pkg/thread"
)

// Router turns push events into cache invalidations for the threads that
// are open locally. An event for any other thread is dropped, so activity
// on one task never makes every open thread in the project refetch.
type Router struct {
	invalidator Invalidator
	logger      zerolog.Logger
	metrics     *Metrics

	mu      sync.RWMutex
	tracked map[thread.Key]int
}

// NewRouter creates a router that invalidates through inv.
func NewRouter(inv Invalidator, logger zerolog.Logger, metrics *Metrics) *Router {
	return &Router{
		invalidator: inv,
		logger:      logger.With().Str("component", "router").Logger(),
		metrics:     metrics,
		tracked:     make(map[thread.Key]int),
	}
}

// Track registers interest in key. Interest is reference counted; the
// returned func releases this registration and is safe to call twice.
func (r *Router) Track(key thread.Key) (untrack func()) {
	r.mu.Lock()
	r.tracked[key]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.tracked[key]--
			if r.tracked[key] <= 0 {
				delete(r.tracked, key)
			}
		})
	}
}

// Tracked reports whether any registration for key is live.
func (r *Router) Tracked(key thread.Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tracked[key] > 0
}

// Route invalidates the event's thread if it is tracked and reports whether
// it did.
func (r *Router) Route(event thread.Event) bool {
	log := r.logger.With().
		Str("event_type", string(event.Kind)).
		Str("project", event.ProjectID).
		Str("context_type", string(event.Comment.Context.Type)).
		Str("context_id", event.Comment.Context.ID).
		Logger()

	if err := event.Kind.Validate(); err != nil {
		r.metrics.event("dropped")
		log.Warn().Err(err).Msg("Dropping malformed event")
		return false
	}

	key := event.Key()
	if !r.Tracked(key) {
		r.metrics.event("dropped")
		log.Debug().Msg("Dropping event for untracked thread")
		return false
	}

	r.invalidator.Invalidate(key)
	r.metrics.event("routed")
	log.Debug().Msg("Routed event")
	return true
}

// Run routes events in delivery order until the channel closes (nil error)
// or ctx is cancelled (ctx.Err()). Missed events are not recovered here;
// the cache's staleness refetch covers gaps.
//
// Pattern: the single consumer loop of a Pub/Sub subscription.
func (r *Router) Run(ctx context.Context, events <-chan thread.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			r.Route(event)
		}
	}
}
