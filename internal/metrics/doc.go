// Package metrics provides Prometheus metrics for the bridge.
//
// Exposed families:
//   - svcbridge_pool_*: reserved buffers, capacity and exhaustion per writer pool
//   - svcbridge_registry_*: in-flight and correlated requests per service
//   - svcbridge_writer_*: write outcomes and sent bytes per writer
//   - svcbridge_diag_events_total: non-fatal anomalies by kind
//
// Every constructor has a WithRegistry variant for tests. Metrics are served
// by Server on /metrics.
//
// Usage:
//
//	poolMetrics := metrics.NewPoolMetrics()
//	p, _ := pool.New(cfg, pool.WithMetrics(poolMetrics, "local/request"))
//
//	srv := metrics.NewServer(":9090", logger)
//	srv.Start()
package metrics

// Namespace prefixes every metric name.
const Namespace = "svcbridge"
