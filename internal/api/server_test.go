package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homehub/internal/runtime"
)

type fakeRuntime struct {
	started bool
	status  []runtime.Status
}

func (f *fakeRuntime) Status() []runtime.Status { return f.status }
func (f *fakeRuntime) Started() bool            { return f.started }

type fakeStorage struct{ err error }

func (f fakeStorage) HealthCheck(context.Context) error { return f.err }

func serve(t *testing.T, s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleAddOns(t *testing.T) {
	since := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	rt := &fakeRuntime{
		started: true,
		status: []runtime.Status{
			{Name: "homekit", State: runtime.StateRunning, Since: since},
			{Name: "zigbee", State: runtime.StateFailed, Err: errors.New("serial port busy"), Since: since},
		},
	}
	server := NewServer(rt, fakeStorage{}, nil, zap.NewNop(), 0)

	w := serve(t, server, http.MethodGet, "/api/addons", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response AddOnsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.True(t, response.Started)
	require.Len(t, response.AddOns, 2)
	assert.Equal(t, "homekit", response.AddOns[0].Name)
	assert.Equal(t, "running", response.AddOns[0].State)
	assert.Empty(t, response.AddOns[0].Error)
	assert.Equal(t, "failed", response.AddOns[1].State)
	assert.Equal(t, "serial port busy", response.AddOns[1].Error)
	assert.True(t, since.Equal(response.AddOns[1].Since))
}

func TestHandleAddOns_MethodNotAllowed(t *testing.T) {
	server := NewServer(&fakeRuntime{}, nil, nil, nil, 0)
	w := serve(t, server, http.MethodPost, "/api/addons", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleSitemap(t *testing.T) {
	server := NewServer(&fakeRuntime{}, nil, nil, nil, 0)

	t.Run("plain text", func(t *testing.T) {
		w := serve(t, server, http.MethodGet, "/", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		assert.Contains(t, w.Body.String(), "/api/addons")
	})

	t.Run("html", func(t *testing.T) {
		w := serve(t, server, http.MethodGet, "/", http.Header{"Accept": {"text/html,application/xhtml+xml"}})
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "<h1>homehub API</h1>")
	})

	t.Run("unknown path", func(t *testing.T) {
		w := serve(t, server, http.MethodGet, "/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name      string
		started   bool
		storage   error
		wantReady int
	}{
		{name: "ready", started: true, wantReady: http.StatusOK},
		{name: "runtime not started", started: false, wantReady: http.StatusServiceUnavailable},
		{name: "storage down", started: true, storage: errors.New("disk I/O error"), wantReady: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(&fakeRuntime{started: tt.started}, fakeStorage{err: tt.storage}, nil, nil, 0)

			live := serve(t, server, http.MethodGet, "/live", nil)
			assert.Equal(t, http.StatusOK, live.Code)

			ready := serve(t, server, http.MethodGet, "/ready", nil)
			assert.Equal(t, tt.wantReady, ready.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "homehub_test_gauge", Help: "test"})
	registry.MustRegister(gauge)
	gauge.Set(3)

	server := NewServer(&fakeRuntime{started: true}, fakeStorage{}, registry, nil, 0)

	// Run a readiness check so the healthcheck metrics are populated.
	serve(t, server, http.MethodGet, "/ready", nil)

	w := serve(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "homehub_test_gauge 3")
	assert.Contains(t, w.Body.String(), "homehub_healthcheck_status")
}

func TestMetricsEndpoint_DisabledWithoutRegistry(t *testing.T) {
	server := NewServer(&fakeRuntime{}, nil, nil, nil, 0)
	w := serve(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartStop(t *testing.T) {
	server := NewServer(&fakeRuntime{started: true}, nil, nil, zap.NewNop(), 0)
	require.NoError(t, server.Start())

	addr := server.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/addons", addr))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"started":true`)

	require.NoError(t, server.Stop())
}
