package monitor

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/najoast/procsys/config"
	"github.com/najoast/procsys/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrServerRunning is returned by Start on a running Server.
var ErrServerRunning = errors.New("monitor server is already running")

// Health is the body served on the health endpoint.
type Health struct {
	Status    string `json:"status"`
	Processes int    `json:"processes"`
	Uptime    string `json:"uptime"`
}

// Server serves metrics, health and process listings over HTTP.
type Server struct {
	cfg       config.MonitorConfig
	inspector core.Inspector
	gatherer  prometheus.Gatherer
	logger    *zap.Logger

	ready   *atomic.Bool
	started *atomic.Time

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer creates a Server. A nil gatherer serves the default registry.
func NewServer(cfg config.MonitorConfig, inspector core.Inspector, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.ProcessesPath == "" {
		cfg.ProcessesPath = "/processes"
	}

	return &Server{
		cfg:       cfg,
		inspector: inspector,
		gatherer:  gatherer,
		logger:    logger,
		ready:     atomic.NewBool(false),
		started:   atomic.NewTime(time.Time{}),
	}
}

// Handler returns the HTTP handler of the Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc(s.cfg.HealthPath, s.handleHealth)
	mux.HandleFunc(s.cfg.ProcessesPath, s.handleProcesses)
	return mux
}

// SetReady marks the runtime as ready or not for the health endpoint.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start listens on the configured address and serves in the background.
// It returns the bound address.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return "", ErrServerRunning
	}

	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrapf(err, "listen %s", addr)
	}

	s.listener = ln
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 3 * time.Second}
	s.started.Store(time.Now())

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor server stopped", zap.Error(err))
		}
	}(s.srv)

	s.logger.Info("monitor server started", zap.String("address", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.ready.Store(false)
	return srv.Shutdown(ctx)
}

// Addr returns the bound address, or an empty string when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := Health{Status: "ok", Processes: s.inspector.Count()}
	if started := s.started.Load(); !started.IsZero() {
		health.Uptime = time.Since(started).Round(time.Second).String()
	}

	status := http.StatusOK
	if !s.ready.Load() {
		health.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	if pid := r.URL.Query().Get("pid"); pid != "" {
		n, err := strconv.ParseInt(pid, 10, 64)
		if err != nil {
			http.Error(w, "invalid pid", http.StatusBadRequest)
			return
		}
		info, ok := s.inspector.Info(core.PID(n))
		if !ok {
			http.Error(w, "no such process", http.StatusNotFound)
			return
		}
		s.writeJSON(w, http.StatusOK, info)
		return
	}
	s.writeJSON(w, http.StatusOK, s.inspector.Processes())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
