// Package writer implements the send path of the bridge: one Writer per
// (participant, topic) takes samples queued by the routing layer, copies
// each into a pooled buffer and hands it to the participant's transport.
//
// A Writer is driven by a single goroutine. Enqueue may be called from any
// goroutine (transport receive loops); Write, Flush and the pool behind them
// belong to the driving goroutine only.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dray-io/svcbridge/internal/diag"
	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/logging"
	"github.com/dray-io/svcbridge/internal/metrics"
	"github.com/dray-io/svcbridge/internal/pool"
	"github.com/dray-io/svcbridge/internal/topic"
)

// Common errors returned by writers.
var (
	// ErrNoData is returned by Write when there is nothing to send this
	// cycle: the queue is empty or no buffer is available. Try again on
	// the next scheduling opportunity.
	ErrNoData = errors.New("writer: no data")

	// ErrDisabled is returned by Write while the writer is disabled.
	ErrDisabled = errors.New("writer: disabled")

	// ErrNoCorrelation is returned by a reply writer for replies whose
	// request is unknown. The reply is dropped.
	ErrNoCorrelation = errors.New("writer: reply has no correlation")
)

// Roles label writers in logs and metrics.
const (
	RolePlain   = "plain"
	RoleRequest = "request"
	RoleReply   = "reply"
)

// Data is one sample received from a participant and queued for forwarding.
type Data struct {
	Payload []byte

	// Source is the writer that published the sample in its own domain.
	Source identity.GUID

	// Origin is the participant the sample was received from.
	Origin identity.ParticipantID

	// Sequence is the number the sample travels under. For requests it is
	// the correlation key stamped by the bridge; for replies it is the key
	// of the request being answered.
	Sequence identity.SequenceNumber

	// Sample identifies the sample as published by Source.
	Sample identity.SampleIdentity

	// ReplyTo is the destination routing metadata: who a reply is for, or
	// where replies to a request must be sent.
	ReplyTo identity.SampleIdentity
}

// Message is what a Transport receives. Buffer belongs to the writer's pool
// and is released as soon as Send returns; transports copy what they keep.
type Message struct {
	Topic    topic.Topic
	Buffer   *pool.Buffer
	Source   identity.GUID
	Sequence identity.SequenceNumber
	Sample   identity.SampleIdentity
	ReplyTo  identity.SampleIdentity
}

// Payload returns the buffer contents.
func (m *Message) Payload() []byte {
	return m.Buffer.Bytes()
}

// Transport delivers messages into one participant's domain.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// Config identifies a writer and sizes its pool.
type Config struct {
	Participant identity.ParticipantID
	Topic       topic.Topic
	Pool        pool.Config
}

// Option configures a Writer.
type Option func(*options)

type options struct {
	logger        *logging.Logger
	reporter      diag.Reporter
	writerMetrics *metrics.WriterMetrics
	poolMetrics   *metrics.PoolMetrics
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReporter sends anomalies to r.
func WithReporter(r diag.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithMetrics records write outcomes and pool state.
func WithMetrics(w *metrics.WriterMetrics, p *metrics.PoolMetrics) Option {
	return func(o *options) {
		o.writerMetrics = w
		o.poolMetrics = p
	}
}

// Writer forwards queued samples of one topic to one participant.
type Writer struct {
	participant identity.ParticipantID
	topic       topic.Topic
	role        string
	transport   Transport
	pool        *pool.Pool
	logger      *logging.Logger
	reporter    diag.Reporter
	metrics     *metrics.WriterMetrics
	enabled     atomic.Bool

	// route may rewrite the outgoing message. An error drops the sample.
	route func(*Data, *Message) error
	// done runs once a sample has been handed to the transport, whether or
	// not the send succeeded. The sample is no longer queued at that point.
	done func(*Data)

	mu      sync.Mutex
	pending []*Data
}

// New creates a plain writer. It starts disabled.
func New(cfg Config, t Transport, opts ...Option) (*Writer, error) {
	return newWriter(RolePlain, cfg, t, opts)
}

func newWriter(role string, cfg Config, t Transport, opts []Option) (*Writer, error) {
	if t == nil {
		return nil, fmt.Errorf("writer: nil transport for %s", cfg.Participant)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Global()
	}

	label := string(cfg.Participant) + "/" + cfg.Topic.Name
	p, err := pool.New(cfg.Pool, pool.WithMetrics(o.poolMetrics, label))
	if err != nil {
		return nil, fmt.Errorf("writer: %s: %w", label, err)
	}

	return &Writer{
		participant: cfg.Participant,
		topic:       cfg.Topic,
		role:        role,
		transport:   t,
		pool:        p,
		logger: o.logger.With(map[string]any{
			"participant": string(cfg.Participant),
			"topic":       cfg.Topic.Name,
			"role":        role,
		}),
		reporter: diag.OrNop(o.reporter),
		metrics:  o.writerMetrics,
	}, nil
}

// Participant returns the participant the writer sends to.
func (w *Writer) Participant() identity.ParticipantID { return w.participant }

// Topic returns the topic the writer sends on.
func (w *Writer) Topic() topic.Topic { return w.topic }

// Role returns the writer role label.
func (w *Writer) Role() string { return w.role }

// Pool exposes the writer's buffer pool for inspection.
func (w *Writer) Pool() *pool.Pool { return w.pool }

// Enable starts accepting writes.
func (w *Writer) Enable() {
	if !w.enabled.Swap(true) {
		w.logger.Debug("writer enabled")
	}
}

// Disable stops writing. Queued samples are kept.
func (w *Writer) Disable() {
	if w.enabled.Swap(false) {
		w.logger.Debug("writer disabled")
	}
}

// Enabled reports whether the writer accepts writes.
func (w *Writer) Enabled() bool { return w.enabled.Load() }

// Enqueue queues d for forwarding. Safe for concurrent use.
func (w *Writer) Enqueue(d *Data) {
	w.mu.Lock()
	w.pending = append(w.pending, d)
	w.mu.Unlock()
}

// Pending returns the number of queued samples.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Writer) peek() *Data {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	return w.pending[0]
}

func (w *Writer) pop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[0] = nil
	w.pending = w.pending[1:]
	if len(w.pending) == 0 {
		w.pending = nil
	}
}

// Write sends the oldest queued sample. It never blocks waiting for a
// buffer: ErrNoData means try again later and leaves the sample queued.
func (w *Writer) Write(ctx context.Context) error {
	if !w.enabled.Load() {
		return ErrDisabled
	}

	d := w.peek()
	if d == nil {
		w.metrics.RecordWrite(w.role, string(w.participant), metrics.OutcomeNoData)
		return ErrNoData
	}

	msg := Message{
		Topic:    w.topic,
		Source:   d.Source,
		Sequence: d.Sequence,
		Sample:   d.Sample,
		ReplyTo:  d.ReplyTo,
	}
	if w.route != nil {
		if err := w.route(d, &msg); err != nil {
			w.pop()
			w.metrics.RecordWrite(w.role, string(w.participant), metrics.OutcomeDropped)
			return err
		}
	}

	buf, err := w.pool.Reserve()
	if err != nil {
		w.report(diag.KindExhausted, d.Sequence, err)
		w.metrics.RecordWrite(w.role, string(w.participant), metrics.OutcomeNoData)
		return ErrNoData
	}
	buf.Load(d.Payload)
	msg.Buffer = buf
	w.pop()

	sendErr := w.transport.Send(ctx, &msg)
	if err := w.pool.Release(buf); err != nil {
		w.report(diag.KindInvalidRelease, d.Sequence, err)
	}
	if w.done != nil {
		w.done(d)
	}
	if sendErr != nil {
		w.report(diag.KindTransport, d.Sequence, sendErr)
		w.metrics.RecordWrite(w.role, string(w.participant), metrics.OutcomeError)
		return fmt.Errorf("writer: send to %s: %w", w.participant, sendErr)
	}

	if w.logger.Enabled(logging.LevelDebug) {
		w.logger.Debugf("sample forwarded", map[string]any{
			"sequence": uint64(d.Sequence),
			"bytes":    len(d.Payload),
			"source":   d.Source.String(),
		})
	}
	w.metrics.RecordSent(w.role, string(w.participant), len(d.Payload))
	return nil
}

// Flush writes until the queue is empty or no buffer is left. It returns
// the number of samples sent and any errors for samples that were dropped.
func (w *Writer) Flush(ctx context.Context) (int, error) {
	var (
		sent int
		errs []error
	)
	for ctx.Err() == nil {
		err := w.Write(ctx)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrNoData), errors.Is(err, ErrDisabled):
			return sent, errors.Join(errs...)
		default:
			errs = append(errs, err)
		}
	}
	return sent, errors.Join(append(errs, ctx.Err())...)
}

func (w *Writer) report(kind diag.Kind, seq identity.SequenceNumber, err error) {
	w.reporter.Report(diag.Event{
		Kind:        kind,
		Service:     w.topic.Name,
		Participant: string(w.participant),
		Sequence:    uint64(seq),
		Err:         err,
	})
}
