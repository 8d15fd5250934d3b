package addon

import (
	"go.uber.org/zap"
)

// Context provides dependencies to an add-on factory.
// It wraps everything an add-on is given in a single struct for cleaner
// constructor signatures.
type Context struct {
	// Name is the descriptor name the add-on is being created under.
	Name string

	// Config is the add-on's immutable configuration slice.
	Config Config

	// Storage is the shared persistence handle. It is owned by the host;
	// add-ons must not close it.
	Storage Storage

	// Logger is already namespaced with the add-on name.
	Logger *zap.Logger

	onFailure func(error)
}

// NewContext creates a factory context. onFailure receives failures the
// add-on reports after Init and may be nil.
func NewContext(name string, cfg Config, storage Storage, logger *zap.Logger, onFailure func(error)) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Name:      name,
		Config:    cfg,
		Storage:   storage,
		Logger:    logger,
		onFailure: onFailure,
	}
}

// ReportFailure tells the host that the add-on can no longer operate, for
// example because its protocol connection was lost for good. The add-on is
// moved to the failed state and still receives Destroy at shutdown.
func (c *Context) ReportFailure(err error) {
	if err == nil || c.onFailure == nil {
		return
	}
	c.onFailure(err)
}
