// Package registry correlates forwarded requests with the replies that
// answer them.
//
// One Registry exists per service. When the bridge forwards a request it
// records the sequence number under which the request was sent together with
// the participant and sample identity that issued it. When the reply comes
// back carrying that sequence number, the reply path looks the entry up to
// address the reply to the original requester and then erases it.
//
// Entries are never expired. A request that is never answered keeps its
// entry for the lifetime of the registry; Len and the in-flight gauge make
// that growth visible.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dray-io/svcbridge/internal/diag"
	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/metrics"
	"github.com/dray-io/svcbridge/internal/topic"
)

// Common errors returned by Registry operations.
var (
	// ErrNotServiceTopic is returned by New for topics that are neither the
	// request nor the reply side of a service.
	ErrNotServiceTopic = errors.New("registry: topic is not a service topic")

	// ErrDuplicateSequence is returned by Add when the sequence number is
	// already correlated. The existing entry is kept.
	ErrDuplicateSequence = errors.New("registry: duplicate sequence number")

	// ErrSequenceNotFound is returned by Get and Erase for sequence numbers
	// with no entry.
	ErrSequenceNotFound = errors.New("registry: sequence number not found")
)

// Entry records who issued a forwarded request.
type Entry struct {
	Origin identity.ParticipantID
	Sample identity.SampleIdentity
}

// IsZero reports whether e is the empty sentinel returned on lookup misses.
func (e Entry) IsZero() bool {
	return e == Entry{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithConvention classifies topics with c instead of topic.DefaultConvention.
func WithConvention(c topic.Convention) Option {
	return func(r *Registry) { r.convention = c }
}

// WithReporter sends anomalies to rep.
func WithReporter(rep diag.Reporter) Option {
	return func(r *Registry) { r.reporter = diag.OrNop(rep) }
}

// WithMetrics publishes correlation counts.
func WithMetrics(m *metrics.RegistryMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry is the correlation table of one service.
type Registry struct {
	convention   topic.Convention
	serviceName  string
	requestTopic topic.Topic
	replyTopic   topic.Topic
	server       identity.ParticipantID
	reporter     diag.Reporter
	metrics      *metrics.RegistryMetrics

	identitySets atomic.Int32

	mu      sync.Mutex
	related identity.SampleIdentity
	entries map[identity.SequenceNumber]Entry
}

// New builds the registry of the service that t belongs to. t may be either
// the request or the reply topic; server is the participant that hosts the
// service.
func New(t topic.Topic, server identity.ParticipantID, opts ...Option) (*Registry, error) {
	r := &Registry{
		convention: topic.DefaultConvention,
		server:     server,
		reporter:   diag.Nop,
		entries:    make(map[identity.SequenceNumber]Entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	c := r.convention
	switch {
	case c.IsRequest(t):
		r.requestTopic = t
		r.replyTopic = c.ReplyFromRequest(t)
	case c.IsReply(t):
		r.replyTopic = t
		r.requestTopic = c.RequestFromReply(t)
	default:
		err := fmt.Errorf("%w: %s", ErrNotServiceTopic, t)
		r.reporter.Report(diag.Event{
			Kind:        diag.KindConstruction,
			Participant: string(server),
			Err:         err,
		})
		return nil, err
	}
	r.serviceName = c.ServiceName(t)
	return r, nil
}

// SetRelatedSampleIdentity sets the identity replies should be addressed to
// so that they come back through the bridge. It should be called once,
// before any request is forwarded; later calls are reported.
func (r *Registry) SetRelatedSampleIdentity(replyReader identity.GUID) {
	if r.identitySets.Add(1) > 1 {
		r.report(diag.KindReidentify, 0, fmt.Errorf("registry: related sample identity set again to %s", replyReader))
	}
	r.mu.Lock()
	r.related = identity.SampleIdentity{Writer: replyReader}
	r.mu.Unlock()
}

// RelatedSampleIdentity returns the identity set by
// SetRelatedSampleIdentity. Before the first call it is the zero value.
func (r *Registry) RelatedSampleIdentity() identity.SampleIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.related
}

// Add records that the request sent with sequence number seq came from e.
func (r *Registry) Add(seq identity.SequenceNumber, e Entry) error {
	r.mu.Lock()
	_, exists := r.entries[seq]
	if !exists {
		r.entries[seq] = e
	}
	n := len(r.entries)
	r.mu.Unlock()

	if exists {
		return r.report(diag.KindDuplicate, seq, ErrDuplicateSequence)
	}
	r.metrics.RecordAdd(r.serviceName, n)
	return nil
}

// Get returns the entry for seq without removing it. On a miss it returns
// the zero Entry, which callers must not treat as data.
func (r *Registry) Get(seq identity.SequenceNumber) (Entry, error) {
	r.mu.Lock()
	e, ok := r.entries[seq]
	r.mu.Unlock()

	if !ok {
		return Entry{}, r.report(diag.KindNotFound, seq, ErrSequenceNotFound)
	}
	return e, nil
}

// Lookup is Get without the not-found report, for callers that report the
// miss themselves.
func (r *Registry) Lookup(seq identity.SequenceNumber) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[seq]
	return e, ok
}

// Erase removes the entry for seq.
func (r *Registry) Erase(seq identity.SequenceNumber) error {
	r.mu.Lock()
	_, ok := r.entries[seq]
	delete(r.entries, seq)
	n := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return r.report(diag.KindNotFound, seq, ErrSequenceNotFound)
	}
	r.metrics.RecordInFlight(r.serviceName, n)
	return nil
}

// Len returns the number of requests awaiting a reply.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ServiceName returns the name shared by the request and reply topics.
func (r *Registry) ServiceName() string { return r.serviceName }

// RequestTopic returns the request side of the service.
func (r *Registry) RequestTopic() topic.Topic { return r.requestTopic }

// ReplyTopic returns the reply side of the service.
func (r *Registry) ReplyTopic() topic.Topic { return r.replyTopic }

// ServerParticipant returns the participant hosting the service.
func (r *Registry) ServerParticipant() identity.ParticipantID { return r.server }

func (r *Registry) report(kind diag.Kind, seq identity.SequenceNumber, err error) error {
	r.reporter.Report(diag.Event{
		Kind:        kind,
		Service:     r.serviceName,
		Participant: string(r.server),
		Sequence:    uint64(seq),
		Err:         err,
	})
	return err
}
