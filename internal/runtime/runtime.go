// Package runtime hosts protocol add-ons.
//
// The Runtime discovers add-on descriptors, binds each to its configuration
// slice and the shared storage handle, initializes them one at a time in
// discovery order and destroys them in reverse order. Failures are contained
// per add-on: one broken protocol integration never stops the others from
// starting, running or shutting down.
//
// Orchestration is sequential. StartAll and StopAll never overlap and never
// call two add-ons at once; status queries and failure reports from running
// add-ons may arrive concurrently from any goroutine.
package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"homehub/internal/clock"
	"homehub/pkg/addon"

	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned when StartAll is called a second time.
var ErrAlreadyStarted = errors.New("runtime: already started")

// ConfigProvider supplies the configuration slice for an add-on name.
// Names without configuration get an empty slice.
type ConfigProvider interface {
	Slice(name string) addon.Config
}

// StaticConfigs is a ConfigProvider backed by a plain map.
type StaticConfigs map[string]map[string]any

// Slice returns the configuration slice for name.
func (s StaticConfigs) Slice(name string) addon.Config {
	return addon.NewConfig(name, s[name])
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the clock used for status timestamps (useful for testing).
func WithClock(c clock.Clock) Option {
	return func(r *Runtime) {
		r.clock = c
	}
}

// WithMetrics exports lifecycle transitions to m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// instance is a tracked add-on. It exists only for descriptors whose
// factory succeeded.
type instance struct {
	name       string
	handle     addon.AddOn
	state      State
	err        error
	destroyErr error
	reported   error
	since      time.Time
}

// Runtime orchestrates add-on lifecycles.
type Runtime struct {
	source  addon.Source
	configs ConfigProvider
	storage addon.Storage
	base    *zap.Logger
	logger  *zap.Logger
	clock   clock.Clock
	metrics *Metrics

	// opMu serializes StartAll and StopAll.
	opMu sync.Mutex

	// mu guards the fields below.
	mu        sync.RWMutex
	instances []*instance
	started   bool
}

// New creates a Runtime. The storage handle is owned by the caller and is
// passed unchanged to every factory.
func New(source addon.Source, configs ConfigProvider, storage addon.Storage, logger *zap.Logger, opts ...Option) *Runtime {
	if configs == nil {
		configs = StaticConfigs(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{
		source:  source,
		configs: configs,
		storage: storage,
		base:    logger,
		logger:  logger.Named("runtime"),
		clock:   clock.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartAll creates and initializes every discovered add-on in order.
//
// A failure at create, bind or init time is recorded for that add-on and
// startup carries on with the next one. The returned error is reserved for
// failures of the runtime itself; add-on failures are in the report.
func (r *Runtime) StartAll() (*StartupReport, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	if r.source == nil {
		return nil, fmt.Errorf("runtime: no add-on source")
	}

	descriptors := r.source.Discover()
	r.logger.Info("Starting add-ons", zap.Int("discovered", len(descriptors)))

	report := &StartupReport{}
	for _, d := range descriptors {
		log := r.logger.With(zap.String("addon", d.Name))
		cfg := r.configs.Slice(d.Name)

		enabled, err := cfg.Enabled()
		if err != nil {
			log.Error("Invalid enabled option", zap.Error(err))
			report.fail(d.Name, err)
			continue
		}
		if !enabled {
			log.Info("Add-on disabled, skipping")
			report.Skipped = append(report.Skipped, d.Name)
			continue
		}

		inst, err := r.create(d, cfg)
		if err != nil {
			log.Error("Failed to create add-on", zap.Error(err))
			report.fail(d.Name, err)
			continue
		}
		r.track(inst)

		if err := r.initialize(inst); err != nil {
			log.Error("Failed to initialize add-on", zap.Error(err))
			report.fail(d.Name, err)
			continue
		}

		log.Info("Add-on running")
		report.Succeeded = append(report.Succeeded, d.Name)
	}

	r.logger.Info("Add-on startup complete",
		zap.Strings("succeeded", report.Succeeded),
		zap.Int("failed", len(report.Failed)),
		zap.Strings("skipped", report.Skipped))

	return report, nil
}

// create binds a descriptor to its configuration and the storage handle.
func (r *Runtime) create(d addon.Descriptor, cfg addon.Config) (*instance, error) {
	configured, err := cfg.String(addon.KeyName, "")
	if err != nil {
		return nil, err
	}
	if configured != "" && configured != d.Name {
		return nil, fmt.Errorf("%w: configured name %q does not match %q",
			addon.ErrIdentityMismatch, configured, d.Name)
	}

	inst := &instance{name: d.Name}
	ctx := addon.NewContext(d.Name, cfg, r.storage, r.base.Named(d.Name), func(err error) {
		r.reportFailure(inst, err)
	})

	handle, err := safeCreate(d.Factory, ctx)
	if err != nil {
		if !errors.Is(err, addon.ErrConfiguration) && !errors.Is(err, addon.ErrInstantiation) {
			err = fmt.Errorf("%w: %w", addon.ErrInstantiation, err)
		}
		return nil, err
	}
	if handle == nil {
		return nil, fmt.Errorf("%w: factory returned no add-on", addon.ErrInstantiation)
	}

	if got := handle.Name(); got != d.Name {
		return nil, fmt.Errorf("%w: add-on reports name %q, registered as %q",
			addon.ErrIdentityMismatch, got, d.Name)
	}

	inst.handle = handle
	inst.state = StateCreated
	inst.since = r.now()
	return inst, nil
}

func (r *Runtime) track(inst *instance) {
	r.mu.Lock()
	r.instances = append(r.instances, inst)
	r.metrics.observe(inst.name, StateCreated)
	r.mu.Unlock()
}

// initialize runs Init and settles the instance in Running or Failed.
func (r *Runtime) initialize(inst *instance) error {
	r.transition(inst, StateInitializing, nil)

	if err := safeCall(inst.handle.Init); err != nil {
		err = fmt.Errorf("%w: %w", addon.ErrInitialization, err)
		r.transition(inst, StateFailed, err)
		return err
	}

	// The report check and the move to Running share one critical section.
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.reported != nil {
		err := fmt.Errorf("%w: %w", addon.ErrInitialization, inst.reported)
		r.setStateLocked(inst, StateFailed, err)
		return err
	}
	r.setStateLocked(inst, StateRunning, nil)
	return nil
}

// reportFailure handles a failure an add-on reported on its own.
func (r *Runtime) reportFailure(inst *instance, err error) {
	r.mu.Lock()
	state := inst.state
	if state == StateInitializing && inst.reported == nil {
		// Settled by initialize once Init returns.
		inst.reported = err
	}
	r.mu.Unlock()

	switch state {
	case StateInitializing:
		return
	case StateRunning:
		r.logger.Error("Add-on reported failure", zap.String("addon", inst.name), zap.Error(err))
		r.transitionFrom(inst, StateRunning, StateFailed, fmt.Errorf("%w: %w", addon.ErrFailure, err))
	default:
		r.logger.Debug("Ignoring failure report",
			zap.String("addon", inst.name),
			zap.Stringer("state", state),
			zap.Error(err))
	}
}

// StopAll destroys every Running or Failed add-on in reverse start order.
// It always runs to completion; destroy failures are reported, not raised.
// Calling it again only destroys instances that still need it.
func (r *Runtime) StopAll() *ShutdownReport {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.RLock()
	instances := append([]*instance(nil), r.instances...)
	r.mu.RUnlock()

	report := &ShutdownReport{}
	for i := len(instances) - 1; i >= 0; i-- {
		inst := instances[i]
		log := r.logger.With(zap.String("addon", inst.name))

		r.mu.Lock()
		current := inst.state
		if !current.needsDestroy() {
			r.mu.Unlock()
			continue
		}
		r.setStateLocked(inst, StateDestroying, nil)
		r.mu.Unlock()

		log.Info("Destroying add-on", zap.Stringer("from", current))
		err := safeCall(inst.handle.Destroy)
		if err != nil {
			err = fmt.Errorf("%w: %w", addon.ErrDestroy, err)
			log.Error("Add-on destroy failed", zap.Error(err))
			report.DestroyFailed = append(report.DestroyFailed, Failure{Name: inst.name, Err: err})
		}

		r.mu.Lock()
		inst.destroyErr = err
		r.setStateLocked(inst, StateDestroyed, nil)
		r.mu.Unlock()

		report.Destroyed = append(report.Destroyed, inst.name)
	}

	r.logger.Info("Add-on shutdown complete",
		zap.Strings("destroyed", report.Destroyed),
		zap.Int("destroy_failed", len(report.DestroyFailed)))

	return report
}

// Status returns the current state of every tracked add-on in start order.
func (r *Runtime) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Status, 0, len(r.instances))
	for _, inst := range r.instances {
		result = append(result, Status{
			Name:       inst.name,
			State:      inst.state,
			Err:        inst.err,
			DestroyErr: inst.destroyErr,
			Since:      inst.since,
		})
	}
	return result
}

// Started reports whether StartAll has run.
func (r *Runtime) Started() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

func (r *Runtime) transition(inst *instance, to State, err error) {
	r.mu.Lock()
	r.setStateLocked(inst, to, err)
	r.mu.Unlock()
}

// transitionFrom moves inst to `to` only if it is still in `from`.
func (r *Runtime) transitionFrom(inst *instance, from, to State, err error) {
	r.mu.Lock()
	if inst.state != from {
		r.mu.Unlock()
		return
	}
	r.setStateLocked(inst, to, err)
	r.mu.Unlock()
}

// setStateLocked also publishes the gauge, so metric updates are ordered
// the same way as the transitions themselves.
func (r *Runtime) setStateLocked(inst *instance, to State, err error) {
	r.logger.Debug("Add-on state transition",
		zap.String("addon", inst.name),
		zap.Stringer("from", inst.state),
		zap.Stringer("to", to))
	inst.state = to
	inst.since = r.now()
	if err != nil {
		inst.err = err
	}
	r.metrics.observe(inst.name, to)
}

func (r *Runtime) now() time.Time {
	return r.clock.Now()
}

// safeCreate calls the factory, turning a panic into an instantiation error.
func safeCreate(f addon.Factory, ctx *addon.Context) (a addon.AddOn, err error) {
	defer func() {
		if p := recover(); p != nil {
			a = nil
			err = fmt.Errorf("%w: panic: %v", addon.ErrInstantiation, p)
		}
	}()
	return f.Create(ctx)
}

// safeCall runs an add-on lifecycle method, turning a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
