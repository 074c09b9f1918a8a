package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PoolMetrics holds metrics for the buffer pools owned by writers.
// Labels: pool (writer name)
type PoolMetrics struct {
	// Reserved tracks buffers currently owned by in-flight samples.
	Reserved *prometheus.GaugeVec

	// Capacity tracks the number of slots a pool has allocated so far.
	Capacity *prometheus.GaugeVec

	// ExhaustedTotal counts reservations refused because no slot was free.
	ExhaustedTotal *prometheus.CounterVec
}

// NewPoolMetrics creates pool metrics registered with the default registry.
func NewPoolMetrics() *PoolMetrics {
	return newPoolMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewPoolMetricsWithRegistry creates pool metrics registered with reg.
// Useful for testing to avoid conflicts with the default registry.
func NewPoolMetricsWithRegistry(reg prometheus.Registerer) *PoolMetrics {
	return newPoolMetrics(promauto.With(reg))
}

func newPoolMetrics(f promauto.Factory) *PoolMetrics {
	return &PoolMetrics{
		Reserved: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "pool",
			Name:      "reserved_buffers",
			Help:      "Buffers currently reserved by in-flight samples.",
		}, []string{"pool"}),
		Capacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "pool",
			Name:      "capacity_buffers",
			Help:      "Buffers allocated by the pool, free or reserved.",
		}, []string{"pool"}),
		ExhaustedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pool",
			Name:      "exhausted_total",
			Help:      "Reservations refused because the pool had no free buffer.",
		}, []string{"pool"}),
	}
}

// RecordState publishes the reserved count and capacity of a pool.
func (m *PoolMetrics) RecordState(pool string, reserved, capacity int) {
	if m == nil {
		return
	}
	m.Reserved.WithLabelValues(pool).Set(float64(reserved))
	m.Capacity.WithLabelValues(pool).Set(float64(capacity))
}

// RecordExhausted counts one refused reservation.
func (m *PoolMetrics) RecordExhausted(pool string) {
	if m == nil {
		return
	}
	m.ExhaustedTotal.WithLabelValues(pool).Inc()
}
