// Package kafka bridges a Kafka cluster as a participant domain.
//
// Topic names are mapped by replacing '/' with '.' and adding an optional
// prefix. Routing metadata travels in record headers so that a reply
// produced by a Kafka-side service can be correlated like any other.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/logging"
	"github.com/dray-io/svcbridge/internal/topic"
	"github.com/dray-io/svcbridge/internal/transport"
	"github.com/dray-io/svcbridge/internal/writer"
)

// Record header keys.
const (
	HeaderSequence = "svcbridge-seq"
	HeaderOrigin   = "svcbridge-origin"
	HeaderSource   = "svcbridge-source"
	HeaderSample   = "svcbridge-sample"
	HeaderReplyTo  = "svcbridge-reply-to"
	HeaderType     = "svcbridge-type"
)

// ErrMissingHeader is returned when a record lacks a required header.
var ErrMissingHeader = errors.New("kafka: missing header")

// Config configures a Kafka participant.
type Config struct {
	Brokers           []string `yaml:"brokers"`
	ClientID          string   `yaml:"clientId"`
	ConsumerGroup     string   `yaml:"consumerGroup"`
	TopicPrefix       string   `yaml:"topicPrefix"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replicationFactor"`
}

// Transport produces bridged samples to Kafka and consumes samples published
// there by others.
type Transport struct {
	client      *kgo.Client
	cfg         Config
	participant identity.ParticipantID
	router      string
	logger      *logging.Logger
}

// New connects to the brokers in cfg. router identifies this bridge
// instance; records it produced itself are skipped on consume.
func New(cfg Config, participant identity.ParticipantID, router string, logger *logging.Logger, opts ...kgo.Opt) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	}
	if cfg.ClientID != "" {
		base = append(base, kgo.ClientID(cfg.ClientID))
	}
	if cfg.ConsumerGroup != "" {
		base = append(base, kgo.ConsumerGroup(cfg.ConsumerGroup))
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	return NewWithClient(client, cfg, participant, router, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *kgo.Client, cfg Config, participant identity.ParticipantID, router string, logger *logging.Logger) *Transport {
	if logger == nil {
		logger = logging.Global()
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	return &Transport{
		client:      client,
		cfg:         cfg,
		participant: participant,
		router:      router,
		logger:      logger.WithParticipant(string(participant)),
	}
}

// TopicName maps t onto a Kafka topic name.
func TopicName(prefix string, t topic.Topic) string {
	return prefix + strings.ReplaceAll(t.Name, "/", ".")
}

// Send produces msg and waits for the broker acknowledgement.
func (t *Transport) Send(ctx context.Context, msg *writer.Message) error {
	rec := &kgo.Record{
		Topic:   TopicName(t.cfg.TopicPrefix, msg.Topic),
		Key:     []byte(msg.Source.String()),
		Value:   append([]byte(nil), msg.Payload()...),
		Headers: EncodeHeaders(t.router, msg),
	}
	if err := t.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce %s: %w", rec.Topic, err)
	}
	return nil
}

// EnsureTopics creates the Kafka topics for ts. Topics that already exist
// are not an error.
func (t *Transport) EnsureTopics(ctx context.Context, ts ...topic.Topic) error {
	if len(ts) == 0 {
		return nil
	}
	names := make([]string, 0, len(ts))
	for _, tp := range ts {
		names = append(names, TopicName(t.cfg.TopicPrefix, tp))
	}

	admin := kadm.NewClient(t.client)
	resp, err := admin.CreateTopics(ctx, t.cfg.Partitions, t.cfg.ReplicationFactor, nil, names...)
	if err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	var errs []error
	for _, r := range resp.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("kafka: create topic %s: %w", r.Topic, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Consume polls ts and hands every record to h until ctx is cancelled or the
// client is closed. Records produced by this router are skipped.
func (t *Transport) Consume(ctx context.Context, ts []topic.Topic, h transport.Handler) error {
	byName := make(map[string]topic.Topic, len(ts))
	for _, tp := range ts {
		byName[TopicName(t.cfg.TopicPrefix, tp)] = tp
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	t.client.AddConsumeTopics(names...)

	for {
		fetches := t.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topicName string, partition int32, err error) {
			t.logger.Warnf("fetch error", map[string]any{
				"topic":     topicName,
				"partition": partition,
				"error":     err,
			})
		})
		fetches.EachRecord(func(r *kgo.Record) {
			tp, ok := byName[r.Topic]
			if !ok {
				return
			}
			if header(r, HeaderOrigin) == t.router {
				return
			}
			d, err := DecodeRecord(r)
			if err != nil {
				t.logger.Warnf("undecodable record", map[string]any{
					"topic":  r.Topic,
					"offset": r.Offset,
					"error":  err,
				})
				return
			}
			d.Origin = t.participant
			if err := h.Handle(ctx, t.participant, tp, d); err != nil {
				t.logger.Debugf("record not routed", map[string]any{
					"topic": r.Topic,
					"error": err,
				})
			}
		})
	}
}

// Name labels the participant in readiness reports.
func (t *Transport) Name() string { return "kafka/" + string(t.participant) }

// CheckReady pings the cluster.
func (t *Transport) CheckReady(ctx context.Context) error {
	if err := t.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka: ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (t *Transport) Close() {
	t.client.Close()
}

// EncodeHeaders renders the routing metadata of msg.
func EncodeHeaders(router string, msg *writer.Message) []kgo.RecordHeader {
	h := []kgo.RecordHeader{
		{Key: HeaderSequence, Value: []byte(strconv.FormatUint(uint64(msg.Sequence), 10))},
		{Key: HeaderOrigin, Value: []byte(router)},
		{Key: HeaderType, Value: []byte(msg.Topic.Type)},
	}
	if !msg.Source.IsZero() {
		h = append(h, kgo.RecordHeader{Key: HeaderSource, Value: []byte(msg.Source.String())})
	}
	if !msg.Sample.IsZero() {
		h = append(h, kgo.RecordHeader{Key: HeaderSample, Value: []byte(msg.Sample.String())})
	}
	if !msg.ReplyTo.IsZero() {
		h = append(h, kgo.RecordHeader{Key: HeaderReplyTo, Value: []byte(msg.ReplyTo.String())})
	}
	return h
}

// DecodeRecord reads a sample back from a record. Origin is left for the
// caller to fill in.
func DecodeRecord(r *kgo.Record) (*writer.Data, error) {
	seq := header(r, HeaderSequence)
	if seq == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderSequence)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("kafka: header %s: %w", HeaderSequence, err)
	}

	d := &writer.Data{
		Payload:  r.Value,
		Sequence: identity.SequenceNumber(n),
	}
	if s := header(r, HeaderSource); s != "" {
		if d.Source, err = identity.ParseGUID(s); err != nil {
			return nil, fmt.Errorf("kafka: header %s: %w", HeaderSource, err)
		}
	}
	if s := header(r, HeaderSample); s != "" {
		if d.Sample, err = identity.ParseSampleIdentity(s); err != nil {
			return nil, fmt.Errorf("kafka: header %s: %w", HeaderSample, err)
		}
	}
	if s := header(r, HeaderReplyTo); s != "" {
		if d.ReplyTo, err = identity.ParseSampleIdentity(s); err != nil {
			return nil, fmt.Errorf("kafka: header %s: %w", HeaderReplyTo, err)
		}
	}
	return d, nil
}

func header(r *kgo.Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
