package transport

import (
	"context"
	"sync"

	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/writer"
)

// Loopback is an in-process domain. It keeps every delivery and passes it
// to subscribers, which run on the sending goroutine.
type Loopback struct {
	participant identity.ParticipantID

	mu        sync.Mutex
	delivered []Delivery
	subs      []func(Delivery)
}

// NewLoopback creates an empty in-process domain for participant.
func NewLoopback(participant identity.ParticipantID) *Loopback {
	return &Loopback{participant: participant}
}

// Participant returns the participant this domain belongs to.
func (l *Loopback) Participant() identity.ParticipantID { return l.participant }

// Send records a copy of msg and notifies subscribers.
func (l *Loopback) Send(ctx context.Context, msg *writer.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := NewDelivery(msg)

	l.mu.Lock()
	l.delivered = append(l.delivered, d)
	subs := l.subs
	l.mu.Unlock()

	for _, fn := range subs {
		fn(d)
	}
	return nil
}

// Subscribe registers fn for every future delivery.
func (l *Loopback) Subscribe(fn func(Delivery)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs[:len(l.subs):len(l.subs)], fn)
}

// Delivered returns the deliveries so far, oldest first.
func (l *Loopback) Delivered() []Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Delivery, len(l.delivered))
	copy(out, l.delivered)
	return out
}

// Reset forgets past deliveries.
func (l *Loopback) Reset() {
	l.mu.Lock()
	l.delivered = nil
	l.mu.Unlock()
}
