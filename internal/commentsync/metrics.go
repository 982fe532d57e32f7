package commentsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by the sync components. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	fetches       *prometheus.CounterVec
	applies       prometheus.Counter
	rollbacks     *prometheus.CounterVec
	invalidations prometheus.Counter
	entries       prometheus.Gauge
	submissions   *prometheus.CounterVec
	events        *prometheus.CounterVec
	rooms         prometheus.Gauge
	channelErrors prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. Passing a
// nil Registerer creates unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "threads_cache_fetches_total",
			Help: "Thread fetches completed, by result (ok, error, discarded)",
		}, []string{"result"}),
		applies: factory.NewCounter(prometheus.CounterOpts{
			Name: "threads_cache_optimistic_applies_total",
			Help: "Pending comments inserted ahead of server confirmation",
		}),
		rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "threads_cache_rollbacks_total",
			Help: "Optimistic inserts undone, by mode (exact, partial, evicted)",
		}, []string{"mode"}),
		invalidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "threads_cache_invalidations_total",
			Help: "Cache entries marked stale",
		}),
		entries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "threads_cache_entries",
			Help: "Thread entries currently held in the cache",
		}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "threads_submissions_total",
			Help: "Comment submissions, by outcome (confirmed, rolled_back, invalid)",
		}, []string{"outcome"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "threads_router_events_total",
			Help: "Push events seen by the router, by result (routed, dropped)",
		}, []string{"result"}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "threads_channel_rooms",
			Help: "Project rooms currently joined on the push channel",
		}),
		channelErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "threads_channel_errors_total",
			Help: "Push channel connect, join and stream errors",
		}),
	}
}

func (m *Metrics) fetch(result string) {
	if m != nil {
		m.fetches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) apply() {
	if m != nil {
		m.applies.Inc()
	}
}

func (m *Metrics) rollback(mode string) {
	if m != nil {
		m.rollbacks.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) invalidate() {
	if m != nil {
		m.invalidations.Inc()
	}
}

func (m *Metrics) setEntries(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}

func (m *Metrics) submission(outcome string) {
	if m != nil {
		m.submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) event(result string) {
	if m != nil {
		m.events.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) channelError() {
	if m != nil {
		m.channelErrors.Inc()
	}
}
