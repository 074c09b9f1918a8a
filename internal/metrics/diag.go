package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DiagMetrics counts diagnostic events (duplicate sequences, missing
// correlations, pool exhaustion and so on).
type DiagMetrics struct {
	EventsTotal *prometheus.CounterVec
}

// NewDiagMetrics creates diagnostic metrics registered with the default registry.
func NewDiagMetrics() *DiagMetrics {
	return newDiagMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewDiagMetricsWithRegistry creates diagnostic metrics registered with reg.
func NewDiagMetricsWithRegistry(reg prometheus.Registerer) *DiagMetrics {
	return newDiagMetrics(promauto.With(reg))
}

func newDiagMetrics(f promauto.Factory) *DiagMetrics {
	return &DiagMetrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "diag",
			Name:      "events_total",
			Help:      "Non-fatal routing anomalies by kind and service.",
		}, []string{"kind", "service"}),
	}
}

// RecordEvent counts one diagnostic event.
func (m *DiagMetrics) RecordEvent(kind, service string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind, service).Inc()
}
