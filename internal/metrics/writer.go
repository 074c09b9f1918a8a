package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Writer outcome label values.
const (
	OutcomeSent    = "sent"
	OutcomeNoData  = "no_data"
	OutcomeDropped = "dropped"
	OutcomeError   = "error"
)

// WriterMetrics tracks the outcome of every write attempt.
// Labels: role (request, reply, echo, plain), participant, outcome
type WriterMetrics struct {
	WritesTotal *prometheus.CounterVec

	// SentBytesTotal counts payload bytes handed to the transport.
	SentBytesTotal *prometheus.CounterVec
}

// NewWriterMetrics creates writer metrics registered with the default registry.
func NewWriterMetrics() *WriterMetrics {
	return newWriterMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewWriterMetricsWithRegistry creates writer metrics registered with reg.
func NewWriterMetricsWithRegistry(reg prometheus.Registerer) *WriterMetrics {
	return newWriterMetrics(promauto.With(reg))
}

func newWriterMetrics(f promauto.Factory) *WriterMetrics {
	return &WriterMetrics{
		WritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "writer",
			Name:      "writes_total",
			Help:      "Write attempts by writer role, participant and outcome.",
		}, []string{"role", "participant", "outcome"}),
		SentBytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "writer",
			Name:      "sent_bytes_total",
			Help:      "Payload bytes handed to the transport.",
		}, []string{"role", "participant"}),
	}
}

// RecordWrite counts one write attempt.
func (m *WriterMetrics) RecordWrite(role, participant, outcome string) {
	if m == nil {
		return
	}
	m.WritesTotal.WithLabelValues(role, participant, outcome).Inc()
}

// RecordSent counts a successful send of n payload bytes.
func (m *WriterMetrics) RecordSent(role, participant string, n int) {
	if m == nil {
		return
	}
	m.WritesTotal.WithLabelValues(role, participant, OutcomeSent).Inc()
	m.SentBytesTotal.WithLabelValues(role, participant).Add(float64(n))
}
