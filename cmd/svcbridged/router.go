package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dray-io/svcbridge/internal/bridge"
	"github.com/dray-io/svcbridge/internal/config"
	"github.com/dray-io/svcbridge/internal/diag"
	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/logging"
	"github.com/dray-io/svcbridge/internal/metrics"
	"github.com/dray-io/svcbridge/internal/server"
	"github.com/dray-io/svcbridge/internal/transport"
	"github.com/dray-io/svcbridge/internal/transport/kafka"
	"github.com/dray-io/svcbridge/internal/writer"
)

// backlogLimit is the number of queued samples above which the router
// reports not ready.
const backlogLimit = 10000

// RouterOptions configures a Router.
type RouterOptions struct {
	Config   *config.Config
	Logger   *logging.Logger
	RouterID string
	Version  string

	// Registry receives the router's metrics. A fresh registry is created
	// when nil.
	Registry *prometheus.Registry

	// Diagnostics, when set, also receives every routing anomaly.
	Diagnostics diag.Reporter
}

// Router owns the bridge, its participant transports and the HTTP servers.
type Router struct {
	opts    RouterOptions
	logger  *logging.Logger
	metrics *metrics.Set

	bridge        *bridge.Bridge
	endpoints     []bridge.Endpoint
	kafka         []*kafka.Transport
	healthServer  *server.HealthServer
	metricsServer *metrics.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewRouter builds every component from the configuration. Nothing runs
// until Start.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Config == nil {
		return nil, errors.New("router: no config")
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	if opts.RouterID == "" {
		opts.RouterID = identity.NewGUID().String()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	r := &Router{
		opts:    opts,
		logger:  opts.Logger.With(map[string]any{"router": opts.RouterID}),
		metrics: metrics.NewSetWithRegistry(opts.Registry),
	}
	cfg := opts.Config

	for _, p := range cfg.Participants {
		t, err := r.newTransport(p)
		if err != nil {
			r.closeTransports()
			return nil, err
		}
		r.endpoints = append(r.endpoints, bridge.Endpoint{ID: identity.ParticipantID(p.ID), Transport: t})
	}

	b, err := bridge.New(bridge.Config{
		Pool:       cfg.Pool,
		Filter:     cfg.Topics,
		Convention: cfg.Router.Convention.Convention(),
	}, r.endpoints,
		bridge.WithLogger(r.logger),
		bridge.WithMetrics(r.metrics),
		bridge.WithReporter(opts.Diagnostics),
	)
	if err != nil {
		r.closeTransports()
		return nil, err
	}
	r.bridge = b

	for _, s := range cfg.Services {
		if _, err := b.AddService(s.TopicValue(), identity.ParticipantID(s.Server)); err != nil {
			r.closeTransports()
			return nil, fmt.Errorf("router: service %s: %w", s.Topic, err)
		}
	}
	for _, t := range cfg.BuiltinTopics {
		if err := b.AddTopic(t.TopicValue()); err != nil {
			r.closeTransports()
			return nil, fmt.Errorf("router: topic %s: %w", t.Name, err)
		}
	}
	return r, nil
}

func (r *Router) newTransport(p config.ParticipantConfig) (writer.Transport, error) {
	id := identity.ParticipantID(p.ID)
	switch p.Kind {
	case config.KindLocal:
		return transport.NewLoopback(id), nil
	case config.KindEcho:
		return transport.NewEcho(id, r.logger, p.Verbose), nil
	case config.KindKafka:
		kc := p.Kafka
		if kc.ClientID == "" {
			kc.ClientID = "svcbridge-" + p.ID
		}
		kt, err := kafka.New(kc, id, r.opts.RouterID, r.logger)
		if err != nil {
			return nil, fmt.Errorf("router: participant %s: %w", p.ID, err)
		}
		r.kafka = append(r.kafka, kt)
		return kt, nil
	default:
		return nil, fmt.Errorf("router: participant %s: unknown kind %q", p.ID, p.Kind)
	}
}

// Bridge returns the bridge.
func (r *Router) Bridge() *bridge.Bridge { return r.bridge }

// Endpoints returns the participants in configuration order.
func (r *Router) Endpoints() []bridge.Endpoint { return r.endpoints }

// HealthAddr returns the health server address once started.
func (r *Router) HealthAddr() string {
	if r.healthServer == nil {
		return ""
	}
	return r.healthServer.Addr()
}

// Start launches the HTTP servers, the Kafka consumers and the pump loop,
// then enables the bridge. It does not block.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("router already started")
	}
	r.started = true
	r.mu.Unlock()

	cfg := r.opts.Config
	r.logger.Infof("starting router", map[string]any{
		"version":      r.opts.Version,
		"participants": len(r.endpoints),
		"services":     len(cfg.Services),
	})

	r.healthServer = server.NewHealthServer(cfg.Observability.HealthAddr, r.logger)
	r.healthServer.RegisterReadinessCheck(r.bridge)
	r.healthServer.RegisterReadinessCheck(server.BacklogChecker{Pending: r.bridge.Pending, Limit: backlogLimit})
	for _, kt := range r.kafka {
		r.healthServer.RegisterReadinessCheck(kt)
	}
	metricsHandler := metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, r.opts.Registry, r.logger)
	if cfg.Observability.MetricsAddr == "" || cfg.Observability.MetricsAddr == cfg.Observability.HealthAddr {
		r.healthServer.RegisterHandler("/metrics", metricsHandler.Handler())
	} else {
		r.metricsServer = metricsHandler
		if err := r.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	if err := r.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	runCtx, cancel := context.WithCancel(logging.WithLoggerCtx(ctx, r.logger))
	r.cancel = cancel

	topics := r.bridge.Topics()
	for _, kt := range r.kafka {
		kt := kt
		if err := kt.EnsureTopics(runCtx, topics...); err != nil {
			r.logger.Warnf("failed to create kafka topics", map[string]any{
				"participant": kt.Name(),
				"error":       err,
			})
		}
		name := "consume/" + kt.Name()
		r.healthServer.StartLoop(name)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.healthServer.StopLoop(name)
			if err := kt.Consume(runCtx, topics, r.bridge); err != nil && !errors.Is(err, context.Canceled) {
				logging.FromCtx(runCtx).Errorf("consumer stopped", map[string]any{"participant": kt.Name(), "error": err})
			}
		}()
	}

	r.healthServer.StartLoop("pump")
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.healthServer.StopLoop("pump")
		_ = r.bridge.Run(runCtx, cfg.PumpInterval(), func() { r.healthServer.Heartbeat("pump") })
	}()

	r.bridge.Enable()
	return nil
}

// Shutdown disables the bridge, stops every loop and closes the servers.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		r.closeTransports()
		return nil
	}
	r.mu.Unlock()

	r.logger.Info("shutting down router")
	r.healthServer.SetShuttingDown()
	r.bridge.Disable()
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("router: loops still running: %w", ctx.Err()))
	}

	if pending := r.bridge.Pending(); pending > 0 {
		r.logger.Warnf("discarding queued samples", map[string]any{"pending": pending})
	}
	r.closeTransports()

	if r.metricsServer != nil {
		if err := r.metricsServer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.healthServer.Close(); err != nil {
		errs = append(errs, err)
	}
	r.logger.Info("router shutdown complete")
	return errors.Join(errs...)
}

func (r *Router) closeTransports() {
	for _, kt := range r.kafka {
		kt.Close()
	}
	r.kafka = nil
}
