// Package server exposes the router's liveness and readiness over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dray-io/svcbridge/internal/logging"
)

// ReadinessChecker is implemented by components that must be up before the
// router takes traffic: the bridge itself and every remote participant.
type ReadinessChecker interface {
	// Name labels the check in the readiness response.
	Name() string

	// CheckReady returns nil when the component is ready.
	CheckReady(ctx context.Context) error
}

// Status values.
const (
	StatusOK           = "ok"
	StatusDegraded     = "degraded"
	StatusNotReady     = "not_ready"
	StatusShuttingDown = "shutting_down"
)

// DefaultReadinessTimeout bounds each readiness check.
const DefaultReadinessTimeout = 5 * time.Second

// DefaultStaleAfter is how long a loop may go without a heartbeat before
// liveness reports it.
const DefaultStaleAfter = 30 * time.Second

// HealthServer serves /healthz (liveness) and /readyz (readiness).
type HealthServer struct {
	mu               sync.RWMutex
	addr             string
	boundAddr        string
	server           *http.Server
	logger           *logging.Logger
	shutDown         atomic.Bool
	loops            map[string]*loopStatus
	checks           []ReadinessChecker
	readinessTimeout time.Duration
	staleAfter       time.Duration
	handlers         map[string]http.Handler
	now              func() time.Time
}

type loopStatus struct {
	running  bool
	lastBeat time.Time
}

// HealthStatus is the JSON body of both endpoints.
type HealthStatus struct {
	Status string                 `json:"status"`
	Loops  map[string]bool        `json:"loops,omitempty"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewHealthServer creates a HealthServer that will listen on addr.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.Global()
	}
	return &HealthServer{
		addr:             addr,
		logger:           logger,
		loops:            make(map[string]*loopStatus),
		readinessTimeout: DefaultReadinessTimeout,
		staleAfter:       DefaultStaleAfter,
		handlers:         make(map[string]http.Handler),
		now:              time.Now,
	}
}

// RegisterHandler mounts an extra handler, such as /metrics. Call before Start.
func (h *HealthServer) RegisterHandler(pattern string, handler http.Handler) {
	if pattern == "" || handler == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[pattern] = handler
}

// RegisterReadinessCheck adds c to every /readyz evaluation.
func (h *HealthServer) RegisterReadinessCheck(c ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// SetReadinessTimeout bounds each readiness check.
func (h *HealthServer) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessTimeout = d
}

// SetStaleAfter sets how long a loop may miss heartbeats.
func (h *HealthServer) SetStaleAfter(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staleAfter = d
}

// StartLoop marks a long-running loop (pump, consumer) as running.
func (h *HealthServer) StartLoop(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loops[name] = &loopStatus{running: true, lastBeat: h.now()}
}

// Heartbeat records that the loop is still making progress.
func (h *HealthServer) Heartbeat(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.loops[name]; ok {
		s.lastBeat = h.now()
	}
}

// StopLoop marks the loop as exited.
func (h *HealthServer) StopLoop(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.loops[name]; ok {
		s.running = false
	}
}

// SetShuttingDown makes both endpoints report 503 from now on.
func (h *HealthServer) SetShuttingDown() {
	h.shutDown.Store(true)
}

// IsShuttingDown reports whether SetShuttingDown was called.
func (h *HealthServer) IsShuttingDown() bool {
	return h.shutDown.Load()
}

// Handler returns the mux serving every endpoint.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	h.mu.RLock()
	for pattern, handler := range h.handlers {
		mux.Handle(pattern, handler)
	}
	h.mu.RUnlock()
	return mux
}

// Start listens and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	h.mu.Lock()
	h.server = srv
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Infof("health server listening", map[string]any{"addr": ln.Addr().String()})
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorf("health server error", map[string]any{"error": err})
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Close shuts the server down.
func (h *HealthServer) Close() error {
	h.mu.RLock()
	srv := h.server
	h.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(context.Context) HealthStatus { return h.CheckHealth() })
}

func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.CheckReadiness)
}

func (h *HealthServer) respond(w http.ResponseWriter, r *http.Request, check func(context.Context) HealthStatus) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusOK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(status)
	}
}

// CheckHealth evaluates liveness: not shutting down and every registered
// loop running with a recent heartbeat.
func (h *HealthServer) CheckHealth() HealthStatus {
	status := HealthStatus{Status: StatusOK, Checks: make(map[string]CheckResult)}
	if h.shutDown.Load() {
		status.Status = StatusShuttingDown
		status.Checks["shutdown"] = CheckResult{Message: "router is shutting down"}
		return status
	}
	status.Checks["shutdown"] = CheckResult{Healthy: true, Message: "router is running"}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.loops) == 0 {
		return status
	}
	status.Loops = make(map[string]bool, len(h.loops))
	now := h.now()
	for name, s := range h.loops {
		ok := s.running && now.Sub(s.lastBeat) < h.staleAfter
		status.Loops[name] = ok
		if !ok {
			status.Status = StatusDegraded
		}
	}
	if status.Status == StatusDegraded {
		status.Checks["loops"] = CheckResult{Message: "one or more loops stopped or stalled"}
	} else {
		status.Checks["loops"] = CheckResult{Healthy: true, Message: "all loops running"}
	}
	return status
}

// CheckReadiness runs every readiness check with its own timeout.
func (h *HealthServer) CheckReadiness(ctx context.Context) HealthStatus {
	status := HealthStatus{Status: StatusOK, Checks: make(map[string]CheckResult)}
	if h.shutDown.Load() {
		status.Status = StatusShuttingDown
		status.Checks["shutdown"] = CheckResult{Message: "router is shutting down"}
		return status
	}

	h.mu.RLock()
	checks := append([]ReadinessChecker(nil), h.checks...)
	timeout := h.readinessTimeout
	h.mu.RUnlock()

	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.CheckReady(cctx)
		cancel()

		if err != nil {
			status.Status = StatusNotReady
			status.Checks[c.Name()] = CheckResult{Message: err.Error()}
			continue
		}
		status.Checks[c.Name()] = CheckResult{Healthy: true, Message: "ready"}
	}
	return status
}
