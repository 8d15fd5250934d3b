// Package api serves the host HTTP API: add-on status, health probes and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"homehub/internal/runtime"
)

// goroutineThreshold fails liveness when the process leaks goroutines.
const goroutineThreshold = 10000

// StatusProvider exposes the runtime view served by /api/addons.
type StatusProvider interface {
	Status() []runtime.Status
	Started() bool
}

// HealthChecker is implemented by the storage handle.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server provides HTTP API endpoints for the hub
type Server struct {
	runtime  StatusProvider
	storage  HealthChecker
	logger   *zap.Logger
	server   *http.Server
	handler  http.Handler
	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new API server. registry receives the health check
// metrics and is served on /metrics; nil disables both.
func NewServer(rt StatusProvider, storage HealthChecker, registry *prometheus.Registry, logger *zap.Logger, port int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runtime: rt,
		storage: storage,
		logger:  logger.Named("api"),
	}

	var health healthcheck.Handler
	if registry != nil {
		health = healthcheck.NewMetricsHandler(registry, "homehub")
	} else {
		health = healthcheck.NewHandler()
	}
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutineThreshold))
	health.AddReadinessCheck("runtime-started", s.checkStarted)
	if storage != nil {
		health.AddReadinessCheck("storage", healthcheck.Timeout(s.checkStorage, 2*time.Second))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/api/addons", s.handleAddOns)
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}
	s.handler = mux

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) checkStarted() error {
	if s.runtime == nil || !s.runtime.Started() {
		return errors.New("add-on runtime not started")
	}
	return nil
}

func (s *Server) checkStorage() error {
	return s.storage.HealthCheck(context.Background())
}

// AddOnStatus is the JSON form of one runtime.Status.
type AddOnStatus struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	Error        string    `json:"error,omitempty"`
	DestroyError string    `json:"destroy_error,omitempty"`
	Since        time.Time `json:"since"`
}

// AddOnsResponse is returned by /api/addons.
type AddOnsResponse struct {
	Started bool          `json:"started"`
	AddOns  []AddOnStatus `json:"addons"`
}

// handleAddOns returns the state of every tracked add-on
func (s *Server) handleAddOns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := AddOnsResponse{AddOns: []AddOnStatus{}}
	if s.runtime != nil {
		response.Started = s.runtime.Started()
		for _, st := range s.runtime.Status() {
			item := AddOnStatus{
				Name:  st.Name,
				State: st.State.String(),
				Since: st.Since,
			}
			if st.Err != nil {
				item.Error = st.Err.Error()
			}
			if st.DestroyErr != nil {
				item.DestroyError = st.DestroyErr.Error()
			}
			response.AddOns = append(response.AddOns, item)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		return
	}

	s.logger.Debug("Add-on status request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/api/addons", Method: "GET", Description: "Lifecycle state of every add-on"},
	{Path: "/live", Method: "GET", Description: "Liveness probe (?full=1 for details)"},
	{Path: "/ready", Method: "GET", Description: "Readiness probe: runtime started and storage reachable"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap lists the available endpoints, as HTML for browsers and
// plain text otherwise
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>homehub API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        a { color: #ce9178; text-decoration: none; }
    </style>
</head>
<body>
    <h1>homehub API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <a href="%s">%s</a></div>
        <div>%s</div>
    </div>
`, ep.Method, ep.Path, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "homehub API\n")
		fmt.Fprintf(w, "===========\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-14s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start binds the listen address and begins serving HTTP requests
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting HTTP API server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
