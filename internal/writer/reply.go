package writer

import (
	"fmt"

	"github.com/dray-io/svcbridge/internal/diag"
	"github.com/dray-io/svcbridge/internal/registry"
)

// ReplyWriter returns replies to the participant that issued the request.
//
// Each reply carries the sequence number its request was forwarded under.
// The writer looks that number up, addresses the reply to the original
// requester's sample identity and erases the correlation once the reply
// has been handed to the transport, also when the send fails, since the
// reply is not retried. If no buffer is available the reply and its
// correlation both stay in place for the next attempt.
type ReplyWriter struct {
	*Writer
	registry *registry.Registry
}

// NewReplyWriter creates a reply writer on the reply topic of reg.
// cfg.Topic is ignored.
func NewReplyWriter(cfg Config, reg *registry.Registry, t Transport, opts ...Option) (*ReplyWriter, error) {
	if reg == nil {
		return nil, fmt.Errorf("writer: nil registry for %s", cfg.Participant)
	}
	cfg.Topic = reg.ReplyTopic()
	w, err := newWriter(RoleReply, cfg, t, opts)
	if err != nil {
		return nil, err
	}
	rw := &ReplyWriter{Writer: w, registry: reg}
	w.route = rw.address
	w.done = rw.complete
	return rw, nil
}

// Registry returns the correlation table shared with the request side.
func (w *ReplyWriter) Registry() *registry.Registry { return w.registry }

func (w *ReplyWriter) address(d *Data, msg *Message) error {
	e, ok := w.registry.Lookup(d.Sequence)
	if !ok {
		err := fmt.Errorf("%w: sequence %d: %w", ErrNoCorrelation, d.Sequence, registry.ErrSequenceNotFound)
		w.report(diag.KindNoCorrelation, d.Sequence, err)
		return err
	}
	msg.ReplyTo = e.Sample
	return nil
}

func (w *ReplyWriter) complete(d *Data) {
	// A miss here means the entry was erased between lookup and send; the
	// registry has already reported it.
	_ = w.registry.Erase(d.Sequence)
}
