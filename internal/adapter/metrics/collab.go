package metrics

import "github.com/prometheus/client_golang/prometheus"

// CollabMetrics holds Prometheus metrics for presence and draft state.
type CollabMetrics struct {
	InboundMessages *prometheus.CounterVec
	ActiveWorkflows prometheus.Gauge
	ActiveDrafts    prometheus.Gauge
	Broadcasts      *prometheus.CounterVec
}

func NewCollabMetrics(reg prometheus.Registerer) *CollabMetrics {
	m := &CollabMetrics{
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collab",
			Name:      "inbound_messages_total",
			Help:      "Total number of dispatched inbound messages by type.",
		}, []string{"type"}),
		ActiveWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collab",
			Name:      "active_workflows",
			Help:      "Number of workflows with at least one present user.",
		}),
		ActiveDrafts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collab",
			Name:      "active_drafts",
			Help:      "Number of unsaved in-memory drafts.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collab",
			Name:      "broadcasts_total",
			Help:      "Total number of outbound collaboration messages by type and scope.",
		}, []string{"type", "scope"}),
	}

	reg.MustRegister(m.InboundMessages, m.ActiveWorkflows, m.ActiveDrafts, m.Broadcasts)
	return m
}
