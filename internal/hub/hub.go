// Package hub assembles the process: storage, add-on discovery, the runtime
// and the HTTP API.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"homehub/internal/addon/loader"
	"homehub/internal/api"
	"homehub/internal/config"
	"homehub/internal/runtime"
	"homehub/internal/storage"
	"homehub/pkg/addon"
)

// ErrStartupTimeout is returned by Start when the add-on startup sequence
// outlives runtime.startup_timeout.
var ErrStartupTimeout = errors.New("hub: add-on startup timed out")

// Store is the storage handle owned by the hub.
type Store interface {
	addon.Storage
	HealthCheck(ctx context.Context) error
	Close() error
}

// Hub owns every long-lived component of a homehub process.
type Hub struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    Store
	registry *addon.Registry
	metrics  *prometheus.Registry
	runtime  *runtime.Runtime
	api      *api.Server
	plugins  *loader.Result
}

// Option configures a Hub.
type Option func(*options)

type options struct {
	store  Store
	loader *loader.Loader
}

// WithStore uses s instead of opening the configured storage driver.
func WithStore(s Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLoader replaces the plugin loader.
func WithLoader(l *loader.Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// New builds a Hub. Descriptors found in cfg.Plugins.Dir are registered into
// registry next to the compiled-in ones; nothing is started yet.
func New(ctx context.Context, cfg *config.Config, registry *addon.Registry, logger *zap.Logger, opts ...Option) (*Hub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  prometheus.NewRegistry(),
	}

	if cfg.Plugins.Dir != "" {
		l := o.loader
		if l == nil {
			l = loader.New(logger)
		}
		res, err := l.LoadDir(cfg.Plugins.Dir, registry)
		if err != nil {
			return nil, fmt.Errorf("loading add-on plugins: %w", err)
		}
		h.plugins = res
	}

	h.store = o.store
	if h.store == nil {
		s, err := openStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		h.store = s
	}

	h.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	h.runtime = runtime.New(registry, cfg, h.store, logger, runtime.WithMetrics(runtime.NewMetrics(h.metrics)))

	if cfg.API.Enabled {
		h.api = api.NewServer(h.runtime, h.store, h.metrics, logger, cfg.API.Port)
	}

	return h, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemory(), nil
	case config.DriverSQLite:
		s, err := storage.Open(ctx, storage.Config{
			Path:        cfg.Path,
			WALMode:     cfg.WALMode,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Runtime returns the add-on runtime.
func (h *Hub) Runtime() *runtime.Runtime {
	return h.runtime
}

// API returns the HTTP API server, or nil when it is disabled.
func (h *Hub) API() *api.Server {
	return h.api
}

// Plugins returns what the plugin loader found, or nil when no plugin
// directory is configured.
func (h *Hub) Plugins() *loader.Result {
	return h.plugins
}

// Start brings up the HTTP API and then starts every add-on. A non-nil error
// means the process should exit; add-on failures are in the report.
func (h *Hub) Start() (*runtime.StartupReport, error) {
	if h.api != nil {
		if err := h.api.Start(); err != nil {
			return nil, err
		}
	}

	timeout := h.cfg.Runtime.StartupTimeout
	if timeout <= 0 {
		return h.runtime.StartAll()
	}

	type result struct {
		report *runtime.StartupReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := h.runtime.StartAll()
		done <- result{report, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.report, res.err
	case <-timer.C:
		// The startup goroutine is abandoned; the caller exits the process.
		h.logger.Error("Add-on startup exceeded timeout", zap.Duration("timeout", timeout))
		return nil, fmt.Errorf("%w after %s", ErrStartupTimeout, timeout)
	}
}

// Stop shuts down the API, destroys the add-ons and closes storage.
func (h *Hub) Stop() (*runtime.ShutdownReport, error) {
	var err error
	if h.api != nil {
		err = multierr.Append(err, h.api.Stop())
	}

	report := h.runtime.StopAll()
	err = multierr.Append(err, report.Err())
	err = multierr.Append(err, h.store.Close())

	return report, err
}
