package writer

import (
	"fmt"

	"github.com/dray-io/svcbridge/internal/registry"
)

// RequestWriter forwards requests to the participant hosting a service.
// Requests are sent as queued; the correlation was recorded by whoever
// enqueued them.
type RequestWriter struct {
	*Writer
	registry *registry.Registry
}

// NewRequestWriter creates a request writer on the request topic of reg.
// cfg.Topic is ignored.
func NewRequestWriter(cfg Config, reg *registry.Registry, t Transport, opts ...Option) (*RequestWriter, error) {
	if reg == nil {
		return nil, fmt.Errorf("writer: nil registry for %s", cfg.Participant)
	}
	cfg.Topic = reg.RequestTopic()
	w, err := newWriter(RoleRequest, cfg, t, opts)
	if err != nil {
		return nil, err
	}
	return &RequestWriter{Writer: w, registry: reg}, nil
}

// Registry returns the correlation table shared with the reply side.
func (w *RequestWriter) Registry() *registry.Registry { return w.registry }
