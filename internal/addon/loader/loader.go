// Package loader discovers add-ons shipped as Go plugin shared objects.
//
// Every *.so file in the configured directory is opened and must export
//
//	func Descriptors() []addon.Descriptor
//
// Each returned descriptor is registered into the same registry the
// compiled-in add-ons use, so the runtime sees a single discovery list:
// compiled-in add-ons first, then shared objects in file name order.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"

	"go.uber.org/zap"

	"homehub/pkg/addon"
)

// Symbol is the exported entry point looked up in every shared object.
const Symbol = "Descriptors"

// Extension is the file suffix scanned for.
const Extension = ".so"

// Library is an opened shared object.
type Library interface {
	Lookup(symbol string) (plugin.Symbol, error)
}

// Opener opens a shared object.
type Opener func(path string) (Library, error)

// Registrar receives discovered descriptors.
type Registrar interface {
	Register(d addon.Descriptor) error
}

// Result summarizes one LoadDir call.
type Result struct {
	// Registered lists the add-on names registered, in order.
	Registered []string
	// RejectedFiles maps a shared object file name to the reason none of
	// its add-ons could be read.
	RejectedFiles map[string]error
	// RejectedAddOns maps an add-on name to the reason its descriptor was
	// refused by the registry.
	RejectedAddOns map[string]error
}

// Loader scans a directory for add-on shared objects.
type Loader struct {
	open   Opener
	logger *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces plugin.Open (useful for testing).
func WithOpener(open Opener) Option {
	return func(l *Loader) {
		l.open = open
	}
}

// New creates a Loader.
func New(logger *zap.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		open: func(path string) (Library, error) {
			return plugin.Open(path)
		},
		logger: logger.Named("loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadDir registers the add-ons found in dir into reg.
//
// A directory that cannot be read is an error for the whole call. Problems
// with individual files or descriptors (unloadable object, missing symbol,
// duplicate name) are logged, collected in the Result and skipped.
func (l *Loader) LoadDir(dir string, reg Registrar) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading add-on directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	result := &Result{
		RejectedFiles:  make(map[string]error),
		RejectedAddOns: make(map[string]error),
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		log := l.logger.With(zap.String("file", path))

		descriptors, err := l.descriptors(path)
		if err != nil {
			log.Error("Failed to load add-on library", zap.Error(err))
			result.RejectedFiles[name] = err
			continue
		}

		for _, d := range descriptors {
			if err := reg.Register(d); err != nil {
				log.Error("Failed to register add-on", zap.String("addon", d.Name), zap.Error(err))
				result.RejectedAddOns[d.Name] = err
				continue
			}
			log.Info("Registered add-on", zap.String("addon", d.Name))
			result.Registered = append(result.Registered, d.Name)
		}
	}
	return result, nil
}

func (l *Loader) descriptors(path string) (ds []addon.Descriptor, err error) {
	lib, err := l.open(path)
	if err != nil {
		return nil, err
	}
	sym, err := lib.Lookup(Symbol)
	if err != nil {
		return nil, err
	}

	var fn func() []addon.Descriptor
	switch s := sym.(type) {
	case func() []addon.Descriptor:
		fn = s
	case *func() []addon.Descriptor:
		if s == nil || *s == nil {
			return nil, errors.New("nil Descriptors symbol")
		}
		fn = *s
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want func() []addon.Descriptor", Symbol, sym)
	}

	defer func() {
		if p := recover(); p != nil {
			ds, err = nil, fmt.Errorf("%s panicked: %v", Symbol, p)
		}
	}()
	return fn(), nil
}
