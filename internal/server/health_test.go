package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/svcbridge/internal/logging"
)

func newTestServer() *HealthServer {
	return NewHealthServer("127.0.0.1:0", logging.Discard())
}

func get(t *testing.T, h *HealthServer, method, path string) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()
	w := httptest.NewRecorder()
	h.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var status HealthStatus
	if method == http.MethodGet && w.Code != http.StatusMethodNotAllowed {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	}
	return w, status
}

func TestHealthz_OK(t *testing.T) {
	w, status := get(t, newTestServer(), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusOK, status.Status)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHealthz_ShuttingDown(t *testing.T) {
	h := newTestServer()
	h.SetShuttingDown()
	assert.True(t, h.IsShuttingDown())

	w, status := get(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, StatusShuttingDown, status.Status)
	assert.False(t, status.Checks["shutdown"].Healthy)

	w, _ = get(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthz_Loops(t *testing.T) {
	h := newTestServer()
	now := time.Unix(1000, 0)
	h.now = func() time.Time { return now }
	h.SetStaleAfter(time.Second)

	h.StartLoop("pump")
	h.StartLoop("consume/cloud")
	_, status := get(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, StatusOK, status.Status)
	assert.Equal(t, map[string]bool{"pump": true, "consume/cloud": true}, status.Loops)

	now = now.Add(2 * time.Second)
	h.Heartbeat("pump")
	w, status := get(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, StatusDegraded, status.Status)
	assert.True(t, status.Loops["pump"])
	assert.False(t, status.Loops["consume/cloud"], "no heartbeat for 2s")

	h.Heartbeat("consume/cloud")
	h.StopLoop("pump")
	_, status = get(t, h, http.MethodGet, "/healthz")
	assert.False(t, status.Loops["pump"])
	assert.Equal(t, StatusDegraded, status.Status)
}

func TestReadyz(t *testing.T) {
	h := newTestServer()
	ready := errors.New("bridge: disabled")
	h.RegisterReadinessCheck(CheckFunc{Label: "bridge", Fn: func(context.Context) error { return ready }})

	w, status := get(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, StatusNotReady, status.Status)
	assert.Equal(t, CheckResult{Message: "bridge: disabled"}, status.Checks["bridge"])

	ready = nil
	w, status = get(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, status.Checks["bridge"].Healthy)
}

func TestReadyz_Timeout(t *testing.T) {
	h := newTestServer()
	h.SetReadinessTimeout(10 * time.Millisecond)
	h.RegisterReadinessCheck(CheckFunc{Label: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	status := h.CheckReadiness(context.Background())
	assert.Equal(t, StatusNotReady, status.Status)
	assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
}

func TestBacklogChecker(t *testing.T) {
	pending := 5
	c := BacklogChecker{Pending: func() int { return pending }, Limit: 10}
	assert.Equal(t, "backlog", c.Name())
	require.NoError(t, c.CheckReady(context.Background()))

	pending = 11
	require.Error(t, c.CheckReady(context.Background()))

	c.Limit = 0
	require.NoError(t, c.CheckReady(context.Background()), "zero limit disables the check")
}

func TestMethodNotAllowed(t *testing.T) {
	w, _ := get(t, newTestServer(), http.MethodPost, "/healthz")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHeadHasNoBody(t *testing.T) {
	w, _ := get(t, newTestServer(), http.MethodHead, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestStartServesExtraHandlers(t *testing.T) {
	h := newTestServer()
	h.RegisterHandler("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "svcbridge_up 1\n")
	}))
	require.NoError(t, h.Start())
	defer h.Close()

	resp, err := http.Get("http://" + h.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "svcbridge_up 1\n", string(body))

	resp2, err := http.Get("http://" + h.Addr() + "/healthz")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestCloseWithoutStart(t *testing.T) {
	assert.NoError(t, newTestServer().Close())
}
