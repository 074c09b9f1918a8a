// Package bridge connects participants: it classifies every topic seen in a
// participant's domain, routes service requests and replies through their
// correlation registries, and forwards plain topics to every other
// participant.
//
// Inbound samples arrive through Handle from any number of goroutines.
// Outbound writes happen only in Pump, which one goroutine drives (Run).
package bridge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dray-io/svcbridge/internal/diag"
	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/logging"
	"github.com/dray-io/svcbridge/internal/metrics"
	"github.com/dray-io/svcbridge/internal/pool"
	"github.com/dray-io/svcbridge/internal/registry"
	"github.com/dray-io/svcbridge/internal/topic"
	"github.com/dray-io/svcbridge/internal/writer"
)

// Common errors returned by the bridge.
var (
	ErrDisabled           = errors.New("bridge: disabled")
	ErrUnknownParticipant = errors.New("bridge: unknown participant")
	ErrUnknownService     = errors.New("bridge: unknown service")
	ErrServerRequest      = errors.New("bridge: request from the server participant")
	ErrForeignReply       = errors.New("bridge: reply from a participant other than the server")
	ErrFiltered           = errors.New("bridge: topic filtered")
)

// Endpoint is one participant and the transport into its domain.
type Endpoint struct {
	ID        identity.ParticipantID
	Transport writer.Transport
}

// Config holds the settings shared by every writer the bridge creates.
type Config struct {
	Pool       pool.Config
	Filter     topic.Filter
	Convention topic.Convention
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithReporter sends anomalies to r in addition to the log.
func WithReporter(r diag.Reporter) Option {
	return func(b *Bridge) { b.reporter = r }
}

// WithMetrics publishes pool, registry, writer and diagnostic metrics.
func WithMetrics(m *metrics.Set) Option {
	return func(b *Bridge) { b.metrics = m }
}

type plainKey struct {
	participant identity.ParticipantID
	topic       topic.Topic
}

// Bridge routes samples between participants.
type Bridge struct {
	cfg       Config
	endpoints []Endpoint
	logger    *logging.Logger
	reporter  diag.Reporter
	metrics   *metrics.Set
	enabled   atomic.Bool

	mu       sync.RWMutex
	services map[string]*Service
	plain    map[plainKey]*writer.Writer
	builtin  []topic.Topic
}

// New creates a bridge over endpoints. It starts disabled.
func New(cfg Config, endpoints []Endpoint, opts ...Option) (*Bridge, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("bridge: no participants")
	}
	if cfg.Convention == (topic.Convention{}) {
		cfg.Convention = topic.DefaultConvention
	}
	if err := cfg.Pool.Validate(); err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	b := &Bridge{
		cfg:       cfg,
		endpoints: slices.Clone(endpoints),
		services:  make(map[string]*Service),
		plain:     make(map[plainKey]*writer.Writer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.Global()
	}
	b.reporter = diag.Multi(
		diag.LogReporter{Logger: b.logger},
		diag.MetricsReporter{Metrics: b.metrics.DiagMetrics()},
		b.reporter,
	)
	return b, nil
}

func (b *Bridge) writerOptions() []writer.Option {
	return []writer.Option{
		writer.WithLogger(b.logger),
		writer.WithReporter(b.reporter),
		writer.WithMetrics(b.metrics.WriterMetrics(), b.metrics.PoolMetrics()),
	}
}

// AddService registers the service t belongs to, hosted by server. t may be
// either side of the service. Adding a service that exists returns it.
func (b *Bridge) AddService(t topic.Topic, server identity.ParticipantID) (*Service, error) {
	reg, err := registry.New(t, server,
		registry.WithConvention(b.cfg.Convention),
		registry.WithReporter(b.reporter),
		registry.WithMetrics(b.metrics.RegistryMetrics()),
	)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.services[reg.ServiceName()]; ok {
		return s, nil
	}
	s, err := NewService(reg, b.endpoints, b.cfg, b.writerOptions()...)
	if err != nil {
		return nil, err
	}
	b.services[reg.ServiceName()] = s
	if b.enabled.Load() {
		s.Enable(identity.NewGUID())
	}
	b.logger.Infof("service added", map[string]any{
		"service": reg.ServiceName(),
		"server":  string(server),
		"request": reg.RequestTopic().Name,
		"reply":   reg.ReplyTopic().Name,
	})
	return s, nil
}

// Service returns the service with the given name, or nil.
func (b *Bridge) Service(name string) *Service {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.services[name]
}

// Services returns the registered services ordered by name.
func (b *Bridge) Services() []*Service {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Service, 0, len(b.services))
	for _, s := range b.services {
		out = append(out, s)
	}
	slices.SortFunc(out, func(x, y *Service) int { return cmp.Compare(x.Name(), y.Name()) })
	return out
}

// AddTopic bridges plain topic t from startup, creating its writers for
// every participant up front.
func (b *Bridge) AddTopic(t topic.Topic) error {
	switch {
	case !t.Valid():
		return fmt.Errorf("bridge: invalid topic %s", t)
	case b.cfg.Convention.IsService(t):
		return fmt.Errorf("bridge: %s is a service topic", t)
	case !b.cfg.Filter.Permits(t):
		return fmt.Errorf("%w: %s", ErrFiltered, t)
	}
	for _, ep := range b.endpoints {
		if _, err := b.plainWriter(ep, t); err != nil {
			return err
		}
	}
	b.mu.Lock()
	if !slices.Contains(b.builtin, t) {
		b.builtin = append(b.builtin, t)
	}
	b.mu.Unlock()
	return nil
}

// Topics returns every topic the bridge reads: both sides of each service
// and the topics added with AddTopic.
func (b *Bridge) Topics() []topic.Topic {
	var out []topic.Topic
	for _, s := range b.Services() {
		out = append(out, s.Registry().RequestTopic(), s.Registry().ReplyTopic())
	}
	b.mu.RLock()
	out = append(out, b.builtin...)
	b.mu.RUnlock()
	return out
}

// Enable starts routing. Each service gets a fresh reply reader identity.
func (b *Bridge) Enable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled.Load() {
		return
	}
	for _, s := range b.services {
		s.Enable(identity.NewGUID())
	}
	for _, w := range b.plain {
		w.Enable()
	}
	b.enabled.Store(true)
	b.logger.Info("bridge enabled")
}

// Disable stops routing. Queued samples are kept.
func (b *Bridge) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled.Load() {
		return
	}
	b.enabled.Store(false)
	for _, s := range b.services {
		s.Disable()
	}
	for _, w := range b.plain {
		w.Disable()
	}
	b.logger.Info("bridge disabled")
}

// Enabled reports whether the bridge is routing.
func (b *Bridge) Enabled() bool { return b.enabled.Load() }

// Name identifies the bridge in readiness reports.
func (b *Bridge) Name() string { return "bridge" }

// CheckReady reports an error until the bridge is enabled.
func (b *Bridge) CheckReady(context.Context) error {
	if !b.enabled.Load() {
		return ErrDisabled
	}
	return nil
}

// Handle routes one sample published on t in the domain of participant
// from. Service topics must have been registered with AddService.
func (b *Bridge) Handle(_ context.Context, from identity.ParticipantID, t topic.Topic, d *writer.Data) error {
	if !b.enabled.Load() {
		return ErrDisabled
	}
	if !b.cfg.Filter.Permits(t) {
		return fmt.Errorf("%w: %s", ErrFiltered, t)
	}

	c := b.cfg.Convention
	switch {
	case c.IsRequest(t):
		s := b.Service(c.ServiceName(t))
		if s == nil {
			return fmt.Errorf("%w: %s", ErrUnknownService, t)
		}
		return s.OnRequest(from, d)
	case c.IsReply(t):
		s := b.Service(c.ServiceName(t))
		if s == nil {
			return fmt.Errorf("%w: %s", ErrUnknownService, t)
		}
		return s.OnReply(from, d)
	default:
		return b.forward(from, t, d)
	}
}

// forward queues a plain sample for every participant except its origin.
func (b *Bridge) forward(from identity.ParticipantID, t topic.Topic, d *writer.Data) error {
	var errs []error
	for _, ep := range b.endpoints {
		if ep.ID == from {
			continue
		}
		w, err := b.plainWriter(ep, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fwd := *d
		fwd.Origin = from
		w.Enqueue(&fwd)
	}
	return errors.Join(errs...)
}

func (b *Bridge) plainWriter(ep Endpoint, t topic.Topic) (*writer.Writer, error) {
	key := plainKey{participant: ep.ID, topic: t}

	b.mu.RLock()
	w, ok := b.plain[key]
	b.mu.RUnlock()
	if ok {
		return w, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.plain[key]; ok {
		return w, nil
	}
	w, err := writer.New(writer.Config{Participant: ep.ID, Topic: t, Pool: b.cfg.Pool}, ep.Transport, b.writerOptions()...)
	if err != nil {
		return nil, err
	}
	if b.enabled.Load() {
		w.Enable()
	}
	b.plain[key] = w
	b.logger.Debugf("plain writer created", map[string]any{
		"participant": string(ep.ID),
		"topic":       t.Name,
	})
	return w, nil
}

func (b *Bridge) plainWriters() []*writer.Writer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*writer.Writer, 0, len(b.plain))
	for _, w := range b.plain {
		out = append(out, w)
	}
	return out
}

// Pump drives every writer until it runs out of data and returns the
// number of samples sent. Errors are for samples that were dropped.
func (b *Bridge) Pump(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, s := range b.Services() {
		n, err := s.Pump(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, w := range b.plainWriters() {
		n, err := w.Flush(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Run pumps every interval until ctx is cancelled. tick, when not nil, is
// called after each pump; the health server uses it as a heartbeat.
func (b *Bridge) Run(ctx context.Context, interval time.Duration, tick func()) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := b.Pump(ctx); err != nil && ctx.Err() == nil {
			b.logger.Debugf("samples dropped", map[string]any{"error": err})
		}
		if tick != nil {
			tick()
		}
	}
}

// Pending returns the number of samples queued on all writers.
func (b *Bridge) Pending() int {
	n := 0
	for _, s := range b.Services() {
		n += s.Pending()
	}
	for _, w := range b.plainWriters() {
		n += w.Pending()
	}
	return n
}
