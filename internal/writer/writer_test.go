package writer

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/svcbridge/internal/diag"
	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/logging"
	"github.com/dray-io/svcbridge/internal/metrics"
	"github.com/dray-io/svcbridge/internal/pool"
	"github.com/dray-io/svcbridge/internal/registry"
	"github.com/dray-io/svcbridge/internal/topic"
)

type sent struct {
	topic   topic.Topic
	payload []byte
	seq     identity.SequenceNumber
	sample  identity.SampleIdentity
	replyTo identity.SampleIdentity
}

// recordingTransport copies every message it receives.
type recordingTransport struct {
	msgs []sent
	err  error
}

func (r *recordingTransport) Send(_ context.Context, m *Message) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, sent{
		topic:   m.Topic,
		payload: append([]byte(nil), m.Payload()...),
		seq:     m.Sequence,
		sample:  m.Sample,
		replyTo: m.ReplyTo,
	})
	return nil
}

var echoRequest = topic.New("rq/EchoRequest", "EchoRequest")

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(echoRequest, "server")
	require.NoError(t, err)
	return reg
}

func testConfig(participant identity.ParticipantID, slots int) Config {
	return Config{
		Participant: participant,
		Topic:       topic.New("chatter", "String"),
		Pool:        pool.FixedConfig(slots, 32),
	}
}

func TestWriterDisabledByDefault(t *testing.T) {
	w, err := New(testConfig("a", 1), &recordingTransport{}, WithLogger(logging.Discard()))
	require.NoError(t, err)

	w.Enqueue(&Data{Payload: []byte("x")})
	require.ErrorIs(t, w.Write(context.Background()), ErrDisabled)
	assert.Equal(t, 1, w.Pending())

	w.Enable()
	require.NoError(t, w.Write(context.Background()))
	assert.Equal(t, 0, w.Pending())
}

func TestWriterEmptyQueueReturnsNoData(t *testing.T) {
	w, err := New(testConfig("a", 1), &recordingTransport{}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	w.Enable()

	require.ErrorIs(t, w.Write(context.Background()), ErrNoData)
}

func TestWriterSendsInOrderAndReleasesBuffers(t *testing.T) {
	tr := &recordingTransport{}
	w, err := New(testConfig("a", 1), tr, WithLogger(logging.Discard()))
	require.NoError(t, err)
	w.Enable()

	for _, p := range []string{"one", "two", "three"} {
		w.Enqueue(&Data{Payload: []byte(p)})
	}
	n, err := w.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, tr.msgs, 3)
	assert.Equal(t, "one", string(tr.msgs[0].payload))
	assert.Equal(t, "three", string(tr.msgs[2].payload))
	assert.Equal(t, 0, w.Pool().Reserved())
}

func TestWriterExhaustedPoolKeepsSample(t *testing.T) {
	rec := &diag.Recorder{}
	tr := &recordingTransport{}
	w, err := New(testConfig("a", 1), tr, WithLogger(logging.Discard()), WithReporter(rec))
	require.NoError(t, err)
	w.Enable()
	w.Enqueue(&Data{Payload: []byte("x"), Sequence: 4})

	held, err := w.Pool().Reserve()
	require.NoError(t, err)

	require.ErrorIs(t, w.Write(context.Background()), ErrNoData)
	assert.Equal(t, 1, w.Pending())
	assert.Empty(t, tr.msgs)
	assert.Equal(t, 1, rec.Count(diag.KindExhausted))

	require.NoError(t, w.Pool().Release(held))
	require.NoError(t, w.Write(context.Background()))
	assert.Len(t, tr.msgs, 1)
}

func TestWriterTransportError(t *testing.T) {
	rec := &diag.Recorder{}
	boom := errors.New("link down")
	w, err := New(testConfig("a", 1), &recordingTransport{err: boom}, WithLogger(logging.Discard()), WithReporter(rec))
	require.NoError(t, err)
	w.Enable()
	w.Enqueue(&Data{Payload: []byte("x")})
	w.Enqueue(&Data{Payload: []byte("y")})

	n, err := w.Flush(context.Background())
	assert.Equal(t, 0, n)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, w.Pending(), "failed samples are not retried")
	assert.Equal(t, 2, rec.Count(diag.KindTransport))
	assert.Equal(t, 0, w.Pool().Reserved())
}

func TestReplyWriterSendFailureErasesCorrelation(t *testing.T) {
	rec := &diag.Recorder{}
	reg := newRegistry(t)
	boom := errors.New("link down")
	w, err := NewReplyWriter(testConfig("client", 1), reg, &recordingTransport{err: boom},
		WithLogger(logging.Discard()), WithReporter(rec))
	require.NoError(t, err)
	w.Enable()

	client := identity.SampleIdentity{Writer: identity.NewGUID(), Sequence: 8}
	require.NoError(t, reg.Add(5, registry.Entry{Origin: "client", Sample: client}))
	w.Enqueue(&Data{Payload: []byte("pong"), Sequence: 5})

	require.ErrorIs(t, w.Write(context.Background()), boom)
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, 0, reg.Len(), "a consumed reply releases its correlation")
	assert.Equal(t, 1, rec.Count(diag.KindTransport))
	assert.Equal(t, 0, w.Pool().Reserved())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(testConfig("a", 1), nil)
	require.Error(t, err)

	cfg := testConfig("a", 1)
	cfg.Pool.BufferSize = 0
	_, err = New(cfg, &recordingTransport{})
	require.ErrorIs(t, err, pool.ErrInvalidConfig)

	_, err = NewReplyWriter(testConfig("a", 1), nil, &recordingTransport{})
	require.Error(t, err)
}

func TestRequestWriterForwardsUnmodified(t *testing.T) {
	reg := newRegistry(t)
	tr := &recordingTransport{}
	w, err := NewRequestWriter(testConfig("server", 2), reg, tr, WithLogger(logging.Discard()))
	require.NoError(t, err)
	w.Enable()

	client := identity.SampleIdentity{Writer: identity.NewGUID(), Sequence: 9}
	relay := identity.SampleIdentity{Writer: identity.NewGUID()}
	w.Enqueue(&Data{Payload: []byte("ping"), Sequence: 1, Sample: client, ReplyTo: relay})

	require.NoError(t, w.Write(context.Background()))
	require.Len(t, tr.msgs, 1)
	got := tr.msgs[0]
	assert.Equal(t, echoRequest, got.topic)
	assert.Equal(t, identity.SequenceNumber(1), got.seq)
	assert.Equal(t, client, got.sample)
	assert.Equal(t, relay, got.replyTo)
	assert.Same(t, reg, w.Registry())
	assert.Equal(t, 0, reg.Len())
}

func TestReplyWriterAddressesOriginator(t *testing.T) {
	reg := newRegistry(t)
	tr := &recordingTransport{}
	w, err := NewReplyWriter(testConfig("client", 2), reg, tr, WithLogger(logging.Discard()))
	require.NoError(t, err)
	w.Enable()

	client := identity.SampleIdentity{Writer: identity.NewGUID(), Sequence: 42}
	require.NoError(t, reg.Add(5, registry.Entry{Origin: "client", Sample: client}))

	w.Enqueue(&Data{Payload: []byte("pong"), Sequence: 5})
	require.NoError(t, w.Write(context.Background()))

	require.Len(t, tr.msgs, 1)
	assert.Equal(t, topic.New("rr/EchoReply", "EchoResponse"), tr.msgs[0].topic)
	assert.Equal(t, client, tr.msgs[0].replyTo)
	assert.Equal(t, "pong", string(tr.msgs[0].payload))

	_, err = reg.Get(5)
	require.ErrorIs(t, err, registry.ErrSequenceNotFound, "entry erased after send")
}

func TestReplyWriterDropsUncorrelated(t *testing.T) {
	rec := &diag.Recorder{}
	reg, err := registry.New(echoRequest, "server", registry.WithReporter(rec))
	require.NoError(t, err)
	tr := &recordingTransport{}
	w, err := NewReplyWriter(testConfig("client", 2), reg, tr, WithLogger(logging.Discard()), WithReporter(rec))
	require.NoError(t, err)
	w.Enable()

	w.Enqueue(&Data{Payload: []byte("late"), Sequence: 77})
	err = w.Write(context.Background())
	require.ErrorIs(t, err, ErrNoCorrelation)
	require.ErrorIs(t, err, registry.ErrSequenceNotFound)
	assert.Equal(t, 0, w.Pending())
	assert.Empty(t, tr.msgs)
	assert.Equal(t, 1, rec.Count(diag.KindNoCorrelation))
	assert.Equal(t, 0, rec.Count(diag.KindNotFound), "the miss is reported once")
	assert.Len(t, rec.Events(), 1)
}

func TestReplyWriterExhaustedKeepsCorrelation(t *testing.T) {
	reg := newRegistry(t)
	tr := &recordingTransport{}
	w, err := NewReplyWriter(testConfig("client", 1), reg, tr, WithLogger(logging.Discard()))
	require.NoError(t, err)
	w.Enable()

	client := identity.SampleIdentity{Writer: identity.NewGUID(), Sequence: 1}
	require.NoError(t, reg.Add(3, registry.Entry{Origin: "client", Sample: client}))
	w.Enqueue(&Data{Payload: []byte("pong"), Sequence: 3})

	held, err := w.Pool().Reserve()
	require.NoError(t, err)
	require.ErrorIs(t, w.Write(context.Background()), ErrNoData)

	e, err := reg.Get(3)
	require.NoError(t, err)
	assert.Equal(t, client, e.Sample)
	assert.Equal(t, 1, w.Pending())

	require.NoError(t, w.Pool().Release(held))
	require.NoError(t, w.Write(context.Background()))
	assert.Equal(t, 0, reg.Len())
	require.Len(t, tr.msgs, 1)
	assert.Equal(t, client, tr.msgs[0].replyTo)
}

func TestWriterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	wm := metrics.NewWriterMetricsWithRegistry(reg)
	pm := metrics.NewPoolMetricsWithRegistry(reg)

	w, err := New(testConfig("a", 2), &recordingTransport{}, WithLogger(logging.Discard()), WithMetrics(wm, pm))
	require.NoError(t, err)
	w.Enable()
	w.Enqueue(&Data{Payload: []byte("12345")})

	require.NoError(t, w.Write(context.Background()))
	require.ErrorIs(t, w.Write(context.Background()), ErrNoData)

	assert.Equal(t, 1.0, testutil.ToFloat64(wm.WritesTotal.WithLabelValues(RolePlain, "a", metrics.OutcomeSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(wm.WritesTotal.WithLabelValues(RolePlain, "a", metrics.OutcomeNoData)))
	assert.Equal(t, 5.0, testutil.ToFloat64(wm.SentBytesTotal.WithLabelValues(RolePlain, "a")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.Capacity.WithLabelValues("a/chatter")))
}
