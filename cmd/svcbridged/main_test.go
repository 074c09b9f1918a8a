package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/svcbridge/internal/config"
	"github.com/dray-io/svcbridge/internal/diag"
	"github.com/dray-io/svcbridge/internal/identity"
	"github.com/dray-io/svcbridge/internal/logging"
	"github.com/dray-io/svcbridge/internal/topic"
	"github.com/dray-io/svcbridge/internal/transport"
	"github.com/dray-io/svcbridge/internal/writer"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		topic topic.Topic
		want  []string
	}{
		{topic.New("rq/EchoRequest", "EchoRequest"), []string{"kind:    request", "service: Echo", "reply:   Topic{rr/EchoReply;EchoResponse}"}},
		{topic.New("rr/EchoReply", "EchoResponse"), []string{"kind:    reply", "request: Topic{rq/EchoRequest;EchoRequest}"}},
		{topic.New("rt/chatter", "String"), []string{"kind:    plain"}},
	}
	for _, tc := range tests {
		var out bytes.Buffer
		classify(&out, topic.DefaultConvention, tc.topic)
		for _, w := range tc.want {
			assert.Contains(t, out.String(), w)
		}
	}
}

func TestRunClassifyRequiresNameAndType(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, runClassify([]string{"-name", "rq/EchoRequest"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "required")

	stderr.Reset()
	assert.Equal(t, 0, runClassify([]string{"-name", "rq/EchoRequest", "-type", "EchoRequest"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "service: Echo")
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
participants:
  - id: a
    kind: local
  - id: b
    kind: echo
services:
  - topic: rq/EchoRequest
    type: EchoRequest
    server: b
`), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
participants:
  - id: a
    kind: telepathy
`), 0o600))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, runValidate([]string{"-config", good}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "2 participants, 1 services")

	assert.Equal(t, 1, runValidate([]string{"-config", bad}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "telepathy")
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Participants = []config.ParticipantConfig{
		{ID: "client", Kind: config.KindLocal},
		{ID: "server", Kind: config.KindLocal},
		{ID: "watch", Kind: config.KindEcho},
	}
	cfg.Services = []config.ServiceConfig{{Topic: "rq/EchoRequest", Type: "EchoRequest", Server: "server"}}
	cfg.BuiltinTopics = []config.TopicConfig{{Name: "rt/chatter", Type: "String"}}
	cfg.Router.PumpIntervalMs = 1
	cfg.Observability.HealthAddr = "127.0.0.1:0"
	cfg.Observability.MetricsAddr = ""
	return cfg
}

func loopback(t *testing.T, r *Router, id identity.ParticipantID) *transport.Loopback {
	t.Helper()
	for _, ep := range r.Endpoints() {
		if ep.ID == id {
			lb, ok := ep.Transport.(*transport.Loopback)
			require.True(t, ok)
			return lb
		}
	}
	t.Fatalf("no participant %s", id)
	return nil
}

func TestRouterLifecycle(t *testing.T) {
	rec := &diag.Recorder{}
	r, err := NewRouter(RouterOptions{
		Config:      testConfig(),
		Logger:      logging.Discard(),
		RouterID:    "test-router",
		Diagnostics: rec,
	})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	require.Error(t, r.Start(context.Background()), "second start")

	resp, err := http.Get("http://" + r.HealthAddr() + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	server := loopback(t, r, "server")
	client := loopback(t, r, "client")
	server.Subscribe(func(d transport.Delivery) {
		_ = r.Bridge().Handle(context.Background(), "server", topic.New("rr/EchoReply", "EchoResponse"),
			&writer.Data{Payload: d.Payload, Sequence: d.Sequence})
	})

	rq := &writer.Data{Payload: []byte("ping"), Source: identity.NewGUID(), Sequence: 1}
	require.NoError(t, r.Bridge().Handle(context.Background(), "client", topic.New("rq/EchoRequest", "EchoRequest"), rq))
	require.Eventually(t, func() bool { return len(client.Delivered()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "ping", string(client.Delivered()[0].Payload))

	resp, err = http.Get("http://" + r.HealthAddr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "svcbridge_registry_correlated_total")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	assert.False(t, r.Bridge().Enabled())
	assert.Empty(t, rec.Events())
}

func TestNewRouterRejectsBadService(t *testing.T) {
	cfg := testConfig()
	cfg.Services = []config.ServiceConfig{{Topic: "rq/EchoRequest", Type: "EchoRequest", Server: "nobody"}}
	_, err := NewRouter(RouterOptions{Config: cfg, Logger: logging.Discard()})
	require.Error(t, err)

	_, err = NewRouter(RouterOptions{Logger: logging.Discard()})
	require.Error(t, err)
}

func TestShutdownWithoutStart(t *testing.T) {
	r, err := NewRouter(RouterOptions{Config: testConfig(), Logger: logging.Discard()})
	require.NoError(t, err)
	assert.NoError(t, r.Shutdown(context.Background()))
}
