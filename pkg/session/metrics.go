package session

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats is the aggregate metrics snapshot exposed to session owners.
type Stats struct {
	// Total is the number of sessions ever created.
	Total uint64 `json:"total"`

	// Active is the number of sessions currently in the registry,
	// regardless of state.
	Active int `json:"active"`

	// Expired is the number of sessions whose expiration timer fired.
	Expired uint64 `json:"expired"`

	// Interactions is the number of accepted interaction events.
	Interactions uint64 `json:"interactions"`

	// ErrorRate is cleanup errors per created session.
	ErrorRate float64 `json:"error_rate"`
}

// metrics holds the manager's Prometheus collectors plus the atomic counters
// behind the Stats snapshot.
type metrics struct {
	created       prometheus.Counter
	active        prometheus.Gauge
	expired       prometheus.Counter
	cleaned       *prometheus.CounterVec
	interactions  prometheus.Counter
	cleanupErrors prometheus.Counter
	limitHits     *prometheus.CounterVec

	totalCreated      atomic.Uint64
	totalExpired      atomic.Uint64
	totalInteractions atomic.Uint64
	totalErrors       atomic.Uint64
}

// newMetrics builds the collectors. A nil registerer leaves them usable but
// unregistered, which keeps tests isolated.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		created: factory.NewCounter(prometheus.CounterOpts{
			Name: "interactd_sessions_created_total",
			Help: "Sessions admitted by the lifecycle manager.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "interactd_sessions_active",
			Help: "Sessions currently occupying a registry slot.",
		}),
		expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "interactd_sessions_expired_total",
			Help: "Sessions whose expiration timer fired.",
		}),
		cleaned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "interactd_sessions_cleaned_total",
			Help: "Sessions fully torn down, by retirement reason.",
		}, []string{"reason"}),
		interactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "interactd_interactions_total",
			Help: "Accepted interaction events.",
		}),
		cleanupErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "interactd_cleanup_errors_total",
			Help: "Failed best-effort cleanup sub-steps.",
		}),
		limitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "interactd_limit_rejections_total",
			Help: "Creations rejected by a concurrency cap, by scope.",
		}, []string{"scope"}),
	}
}

func (m *metrics) onCreated() {
	m.totalCreated.Add(1)
	m.created.Inc()
	m.active.Inc()
}

func (m *metrics) onExpired() {
	m.totalExpired.Add(1)
	m.expired.Inc()
}

func (m *metrics) onCleaned(reason Reason) {
	m.active.Dec()
	m.cleaned.WithLabelValues(string(reason)).Inc()
}

func (m *metrics) onInteraction() {
	m.totalInteractions.Add(1)
	m.interactions.Inc()
}

func (m *metrics) onCleanupError() {
	m.totalErrors.Add(1)
	m.cleanupErrors.Inc()
}

func (m *metrics) onLimitHit(scope Scope) {
	m.limitHits.WithLabelValues(string(scope)).Inc()
}

// snapshot assembles a Stats view. Active comes from the registry.
func (m *metrics) snapshot(active int) Stats {
	total := m.totalCreated.Load()
	errRate := 0.0
	if total > 0 {
		errRate = float64(m.totalErrors.Load()) / float64(total)
	}
	return Stats{
		Total:        total,
		Active:       active,
		Expired:      m.totalExpired.Load(),
		Interactions: m.totalInteractions.Load(),
		ErrorRate:    errRate,
	}
}
