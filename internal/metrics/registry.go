package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegistryMetrics tracks correlation registries.
type RegistryMetrics struct {
	// InFlight is the number of requests awaiting a reply, per service.
	// Entries for requests that never get answered stay here forever, so a
	// steadily rising value points at lost replies.
	InFlight *prometheus.GaugeVec

	// CorrelatedTotal counts requests recorded, per service.
	CorrelatedTotal *prometheus.CounterVec
}

// NewRegistryMetrics creates registry metrics registered with the default registry.
func NewRegistryMetrics() *RegistryMetrics {
	return newRegistryMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewRegistryMetricsWithRegistry creates registry metrics registered with reg.
func NewRegistryMetricsWithRegistry(reg prometheus.Registerer) *RegistryMetrics {
	return newRegistryMetrics(promauto.With(reg))
}

func newRegistryMetrics(f promauto.Factory) *RegistryMetrics {
	return &RegistryMetrics{
		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "registry",
			Name:      "in_flight_requests",
			Help:      "Requests forwarded and still awaiting their reply.",
		}, []string{"service"}),
		CorrelatedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "registry",
			Name:      "correlated_total",
			Help:      "Requests recorded in the correlation registry.",
		}, []string{"service"}),
	}
}

// RecordAdd counts a new correlation and publishes the in-flight count.
func (m *RegistryMetrics) RecordAdd(service string, inFlight int) {
	if m == nil {
		return
	}
	m.CorrelatedTotal.WithLabelValues(service).Inc()
	m.InFlight.WithLabelValues(service).Set(float64(inFlight))
}

// RecordInFlight publishes the in-flight count after a removal.
func (m *RegistryMetrics) RecordInFlight(service string, inFlight int) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(service).Set(float64(inFlight))
}
