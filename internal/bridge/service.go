package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/registry"
	"github.com/dray-io/svcbridge/internal/writer"
)

// Service routes the requests and replies of one service between
// participants. Requests from any client participant go to the server
// participant; each reply goes back to the participant that sent the
// request it answers.
type Service struct {
	registry *registry.Registry
	server   identity.ParticipantID
	order    []identity.ParticipantID
	requests map[identity.ParticipantID]*writer.RequestWriter
	replies  map[identity.ParticipantID]*writer.ReplyWriter

	// next is the last sequence number handed out to a forwarded request.
	next atomic.Uint64

	// state serializes Enable and Disable. enabled is stored last on
	// Enable so that OnRequest never sees an active service without its
	// related sample identity.
	state    sync.Mutex
	identify sync.Once
	enabled  atomic.Bool
}

// NewService creates a request writer and a reply writer for every
// endpoint. The registry's server participant must be one of them.
func NewService(reg *registry.Registry, endpoints []Endpoint, cfg Config, opts ...writer.Option) (*Service, error) {
	s := &Service{
		registry: reg,
		server:   reg.ServerParticipant(),
		requests: make(map[identity.ParticipantID]*writer.RequestWriter, len(endpoints)),
		replies:  make(map[identity.ParticipantID]*writer.ReplyWriter, len(endpoints)),
	}

	for _, ep := range endpoints {
		if _, dup := s.requests[ep.ID]; dup {
			return nil, fmt.Errorf("bridge: participant %s listed twice", ep.ID)
		}
		wc := writer.Config{Participant: ep.ID, Pool: cfg.Pool}
		rq, err := writer.NewRequestWriter(wc, reg, ep.Transport, opts...)
		if err != nil {
			return nil, err
		}
		rr, err := writer.NewReplyWriter(wc, reg, ep.Transport, opts...)
		if err != nil {
			return nil, err
		}
		s.requests[ep.ID] = rq
		s.replies[ep.ID] = rr
		s.order = append(s.order, ep.ID)
	}
	if _, ok := s.requests[s.server]; !ok {
		return nil, fmt.Errorf("%w: server %s of service %s", ErrUnknownParticipant, s.server, reg.ServiceName())
	}
	slices.Sort(s.order)
	return s, nil
}

// Name returns the service name.
func (s *Service) Name() string { return s.registry.ServiceName() }

// Registry returns the correlation table of the service.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Server returns the participant hosting the service.
func (s *Service) Server() identity.ParticipantID { return s.server }

// RequestWriter returns the request writer towards participant p.
func (s *Service) RequestWriter(p identity.ParticipantID) *writer.RequestWriter { return s.requests[p] }

// ReplyWriter returns the reply writer towards participant p.
func (s *Service) ReplyWriter(p identity.ParticipantID) *writer.ReplyWriter { return s.replies[p] }

// Enable sets the identity replies are addressed to and starts the writers.
// replyReader is the bridge's own reader on the reply topic.
func (s *Service) Enable(replyReader identity.GUID) {
	s.state.Lock()
	defer s.state.Unlock()

	s.identify.Do(func() {
		if s.registry.RelatedSampleIdentity().IsZero() {
			s.registry.SetRelatedSampleIdentity(replyReader)
		}
	})
	if s.enabled.Load() {
		return
	}
	for _, p := range s.order {
		s.requests[p].Enable()
		s.replies[p].Enable()
	}
	s.enabled.Store(true)
}

// Disable stops the writers. Queued samples and correlations are kept.
func (s *Service) Disable() {
	s.state.Lock()
	defer s.state.Unlock()

	if !s.enabled.Load() {
		return
	}
	s.enabled.Store(false)
	for _, p := range s.order {
		s.requests[p].Disable()
		s.replies[p].Disable()
	}
}

// Enabled reports whether the service is routing.
func (s *Service) Enabled() bool { return s.enabled.Load() }

// OnRequest correlates a request received from participant from and queues
// it towards the server.
func (s *Service) OnRequest(from identity.ParticipantID, d *writer.Data) error {
	switch {
	case !s.enabled.Load():
		return ErrDisabled
	case from == s.server:
		return ErrServerRequest
	case s.requests[from] == nil:
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, from)
	}

	sample := d.Sample
	if sample.IsZero() {
		sample = identity.SampleIdentity{Writer: d.Source, Sequence: d.Sequence}
	}

	seq := identity.SequenceNumber(s.next.Add(1))
	if err := s.registry.Add(seq, registry.Entry{Origin: from, Sample: sample}); err != nil {
		return err
	}

	fwd := *d
	fwd.Origin = from
	fwd.Sequence = seq
	fwd.Sample = sample
	fwd.ReplyTo = s.registry.RelatedSampleIdentity()
	s.requests[s.server].Enqueue(&fwd)
	return nil
}

// OnReply queues a reply from the server towards the participant that
// issued the request. The correlation stays in the registry until the reply
// writer has sent it.
func (s *Service) OnReply(from identity.ParticipantID, d *writer.Data) error {
	switch {
	case !s.enabled.Load():
		return ErrDisabled
	case from != s.server:
		return fmt.Errorf("%w: %s", ErrForeignReply, from)
	}

	e, err := s.registry.Get(d.Sequence)
	if err != nil {
		return err
	}
	w := s.replies[e.Origin]
	if w == nil {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, e.Origin)
	}
	rep := *d
	rep.Origin = from
	w.Enqueue(&rep)
	return nil
}

// Pump drives every writer of the service once until it runs out of data.
// It must be called from one goroutine at a time.
func (s *Service) Pump(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, p := range s.order {
		for _, w := range []*writer.Writer{s.requests[p].Writer, s.replies[p].Writer} {
			n, err := w.Flush(ctx)
			total += n
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return total, errors.Join(errs...)
}

// Pending returns the number of samples queued on all writers.
func (s *Service) Pending() int {
	n := 0
	for _, p := range s.order {
		n += s.requests[p].Pending() + s.replies[p].Pending()
	}
	return n
}
