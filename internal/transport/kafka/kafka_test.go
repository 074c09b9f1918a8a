package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/pool"
	"github.com/dray-io/svcbridge/internal/topic"
	"github.com/dray-io/svcbridge/internal/writer"
)

func TestTopicName(t *testing.T) {
	tests := []struct {
		prefix string
		topic  topic.Topic
		want   string
	}{
		{"", topic.New("rq/EchoRequest", "EchoRequest"), "rq.EchoRequest"},
		{"bridge.", topic.New("rr/robot/armReply", "ArmResponse"), "bridge.rr.robot.armReply"},
		{"", topic.New("chatter", "String"), "chatter"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, TopicName(tc.prefix, tc.topic))
	}
}

func message(t *testing.T, payload string) *writer.Message {
	t.Helper()
	p, err := pool.New(pool.FixedConfig(1, 16))
	require.NoError(t, err)
	buf, err := p.Reserve()
	require.NoError(t, err)
	buf.Load([]byte(payload))
	return &writer.Message{
		Topic:  topic.New("rq/EchoRequest", "EchoRequest"),
		Buffer: buf,
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	msg := message(t, "ping")
	msg.Source = identity.NewGUID()
	msg.Sequence = 12
	msg.Sample = identity.SampleIdentity{Writer: identity.NewGUID(), Sequence: 3}
	msg.ReplyTo = identity.SampleIdentity{Writer: identity.NewGUID()}

	rec := &kgo.Record{Value: []byte("ping"), Headers: EncodeHeaders("router-1", msg)}
	assert.Equal(t, "router-1", header(rec, HeaderOrigin))
	assert.Equal(t, "EchoRequest", header(rec, HeaderType))

	d, err := DecodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, msg.Source, d.Source)
	assert.Equal(t, msg.Sequence, d.Sequence)
	assert.Equal(t, msg.Sample, d.Sample)
	assert.Equal(t, msg.ReplyTo, d.ReplyTo)
	assert.Equal(t, "ping", string(d.Payload))
	assert.Empty(t, d.Origin)
}

func TestEncodeHeadersOmitsZeroIdentities(t *testing.T) {
	h := EncodeHeaders("r", message(t, "x"))
	keys := make([]string, 0, len(h))
	for _, kv := range h {
		keys = append(keys, kv.Key)
	}
	assert.ElementsMatch(t, []string{HeaderSequence, HeaderOrigin, HeaderType}, keys)
}

func TestDecodeRecordErrors(t *testing.T) {
	_, err := DecodeRecord(&kgo.Record{})
	require.ErrorIs(t, err, ErrMissingHeader)

	_, err = DecodeRecord(&kgo.Record{Headers: []kgo.RecordHeader{
		{Key: HeaderSequence, Value: []byte("nope")},
	}})
	require.Error(t, err)

	_, err = DecodeRecord(&kgo.Record{Headers: []kgo.RecordHeader{
		{Key: HeaderSequence, Value: []byte("1")},
		{Key: HeaderSample, Value: []byte("not-a-sample")},
	}})
	require.ErrorIs(t, err, identity.ErrInvalidSampleIdentity)
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New(Config{}, "kafka", "router", nil)
	require.Error(t, err)
}
