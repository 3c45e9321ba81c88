package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/flowcollab/internal/platform/breaker"
	"github.com/sony/gobreaker"
)

// DirectoryMetrics holds Prometheus metrics for user profile lookups.
type DirectoryMetrics struct {
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	LookupErrors prometheus.Counter
	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec
}

func NewDirectoryMetrics(reg prometheus.Registerer) *DirectoryMetrics {
	m := &DirectoryMetrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "cache_hits_total",
			Help:      "Total number of user profiles served from the Redis cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "cache_misses_total",
			Help:      "Total number of user profiles not found in the Redis cache.",
		}),
		LookupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "lookup_errors_total",
			Help:      "Total number of failed user directory lookups.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per backing store (0=closed, 1=half-open, 2=open).",
		}, []string{"component"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state transitions.",
		}, []string{"component", "state"}),
	}

	reg.MustRegister(m.CacheHits, m.CacheMisses, m.LookupErrors, m.BreakerState, m.BreakerTrips)
	return m
}

// ObserveBreaker records a circuit breaker transition. It satisfies
// breaker.StateObserver.
func (m *DirectoryMetrics) ObserveBreaker(component string, to gobreaker.State) {
	m.BreakerState.WithLabelValues(component).Set(breaker.StateValue(to))
	m.BreakerTrips.WithLabelValues(component, to.String()).Inc()
}
