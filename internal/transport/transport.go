// Package transport provides the participant domains the bridge writes into.
//
// Every transport implements writer.Transport. Inbound traffic is handed to
// a Handler, which the bridge implements.
package transport

import (
	"context"

	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/topic"
	"github.com/dray-io/svcbridge/internal/writer"
)

// Handler receives samples published inside a participant's domain.
type Handler interface {
	Handle(ctx context.Context, from identity.ParticipantID, t topic.Topic, d *writer.Data) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, from identity.ParticipantID, t topic.Topic, d *writer.Data) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, from identity.ParticipantID, t topic.Topic, d *writer.Data) error {
	return f(ctx, from, t, d)
}

// Delivery is a copy of one message as it was handed to a transport.
type Delivery struct {
	Topic    topic.Topic
	Payload  []byte
	Source   identity.GUID
	Sequence identity.SequenceNumber
	Sample   identity.SampleIdentity
	ReplyTo  identity.SampleIdentity
}

// NewDelivery copies msg out of its pooled buffer.
func NewDelivery(msg *writer.Message) Delivery {
	return Delivery{
		Topic:    msg.Topic,
		Payload:  append([]byte(nil), msg.Payload()...),
		Source:   msg.Source,
		Sequence: msg.Sequence,
		Sample:   msg.Sample,
		ReplyTo:  msg.ReplyTo,
	}
}

// Data turns the delivery back into a routable sample received from origin.
func (d Delivery) Data(origin identity.ParticipantID) *writer.Data {
	return &writer.Data{
		Payload:  d.Payload,
		Source:   d.Source,
		Origin:   origin,
		Sequence: d.Sequence,
		Sample:   d.Sample,
		ReplyTo:  d.ReplyTo,
	}
}
