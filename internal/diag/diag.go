// Package diag carries non-fatal routing anomalies (duplicate sequence
// numbers, missing correlations, exhausted pools) to whoever observes the
// bridge. The component that hits the condition still returns an error to
// its caller; reporting is a side channel and never changes control flow.
package diag

import (
	"sync"
	"sync/atomic"

	"github.com/dray-io/svcbridge/internal/logging"
	"github.com/dray-io/svcbridge/internal/metrics"
)

// Kind classifies an Event.
type Kind string

const (
	KindConstruction   Kind = "construction"
	KindDuplicate      Kind = "duplicate"
	KindNotFound       Kind = "not_found"
	KindExhausted      Kind = "exhausted"
	KindInvalidRelease Kind = "invalid_release"
	KindNoCorrelation  Kind = "no_correlation"
	KindReidentify     Kind = "reidentify"
	KindTransport      Kind = "transport"
)

// Event describes one anomaly. Sequence is zero when not applicable.
type Event struct {
	Kind        Kind
	Service     string
	Participant string
	Sequence    uint64
	Err         error
}

// Fields renders the event as log fields.
func (e Event) Fields() map[string]any {
	f := map[string]any{"kind": string(e.Kind)}
	if e.Service != "" {
		f["service"] = e.Service
	}
	if e.Participant != "" {
		f["participant"] = e.Participant
	}
	if e.Sequence != 0 {
		f["sequence"] = e.Sequence
	}
	if e.Err != nil {
		f["error"] = e.Err.Error()
	}
	return f
}

// Reporter receives events. Implementations must not block.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

// Report calls f(e).
func (f ReporterFunc) Report(e Event) { f(e) }

// Nop discards every event.
var Nop Reporter = ReporterFunc(func(Event) {})

// OrNop returns r, or Nop when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop
	}
	return r
}

// LogReporter writes events as warnings. Construction failures are logged
// as errors.
type LogReporter struct {
	Logger *logging.Logger
}

// Report logs e.
func (r LogReporter) Report(e Event) {
	l := r.Logger
	if l == nil {
		l = logging.Global()
	}
	if e.Kind == KindConstruction {
		l.Errorf("service construction failed", e.Fields())
		return
	}
	l.Warnf("routing anomaly", e.Fields())
}

// MetricsReporter counts events by kind and service.
type MetricsReporter struct {
	Metrics *metrics.DiagMetrics
}

// Report counts e.
func (r MetricsReporter) Report(e Event) {
	r.Metrics.RecordEvent(string(e.Kind), e.Service)
}

type multi []Reporter

func (m multi) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}

// Multi fans events out to every non-nil reporter.
func Multi(rs ...Reporter) Reporter {
	out := make(multi, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Channel delivers events on a buffered channel for an external consumer.
// When the buffer is full the event is dropped and counted.
type Channel struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewChannel creates a Channel holding up to size undelivered events.
func NewChannel(size int) *Channel {
	return &Channel{ch: make(chan Event, size)}
}

// Report enqueues e without blocking.
func (c *Channel) Report(e Event) {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the receive side of the channel.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report stores e.
func (r *Recorder) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}
