package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles every metric family of the bridge.
type Set struct {
	Pool     *PoolMetrics
	Registry *RegistryMetrics
	Writer   *WriterMetrics
	Diag     *DiagMetrics
}

// NewSet registers all families with the default registry.
func NewSet() *Set {
	return NewSetWithRegistry(prometheus.DefaultRegisterer)
}

// NewSetWithRegistry registers all families with reg.
func NewSetWithRegistry(reg prometheus.Registerer) *Set {
	return &Set{
		Pool:     NewPoolMetricsWithRegistry(reg),
		Registry: NewRegistryMetricsWithRegistry(reg),
		Writer:   NewWriterMetricsWithRegistry(reg),
		Diag:     NewDiagMetricsWithRegistry(reg),
	}
}

// PoolMetrics returns the pool family, or nil for a nil set.
func (s *Set) PoolMetrics() *PoolMetrics {
	if s == nil {
		return nil
	}
	return s.Pool
}

// RegistryMetrics returns the registry family, or nil for a nil set.
func (s *Set) RegistryMetrics() *RegistryMetrics {
	if s == nil {
		return nil
	}
	return s.Registry
}

// WriterMetrics returns the writer family, or nil for a nil set.
func (s *Set) WriterMetrics() *WriterMetrics {
	if s == nil {
		return nil
	}
	return s.Writer
}

// DiagMetrics returns the diagnostics family, or nil for a nil set.
func (s *Set) DiagMetrics() *DiagMetrics {
	if s == nil {
		return nil
	}
	return s.Diag
}
