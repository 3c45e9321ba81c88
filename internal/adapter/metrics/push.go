package metrics

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons for PushMetrics.MessagesDropped.
const (
	DropUnknownSession = "unknown_session"
	DropSlowClient     = "slow_client"
)

// PushMetrics holds Prometheus metrics for the push transport hub.
type PushMetrics struct {
	ActiveConnections   *prometheus.GaugeVec
	MessagesSent        prometheus.Counter
	MessagesDropped     *prometheus.CounterVec
	MalformedMessages   prometheus.Counter
	LivenessEvictions   prometheus.Counter
	SlowClientEvictions prometheus.Counter
	RejectedConnections *prometheus.CounterVec
}

// NewPushMetrics creates and registers push metrics on the given registry.
func NewPushMetrics(reg prometheus.Registerer) *PushMetrics {
	m := &PushMetrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "active_connections",
			Help:      "Number of registered push connections.",
		}, []string{"backend"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "messages_sent_total",
			Help:      "Total number of messages queued to push connections.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "messages_dropped_total",
			Help:      "Total number of outbound messages dropped.",
		}, []string{"reason"}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "malformed_messages_total",
			Help:      "Total number of inbound payloads that failed to decode.",
		}),
		LivenessEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "liveness_evictions_total",
			Help:      "Total number of connections terminated for not answering a liveness probe.",
		}),
		SlowClientEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "slow_client_evictions_total",
			Help:      "Total number of connections evicted because their send buffer was full.",
		}),
		RejectedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "rejected_connections_total",
			Help:      "Total number of connection attempts rejected before registration.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesSent, m.MessagesDropped, m.MalformedMessages,
		m.LivenessEvictions, m.SlowClientEvictions, m.RejectedConnections)
	return m
}
