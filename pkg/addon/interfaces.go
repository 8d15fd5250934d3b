// Package addon defines the hosting contract for protocol add-ons and the
// registry the runtime discovers them from. Add-on packages register a
// Descriptor with the global registry from an init() function, which gives
// compile-time selection of the protocols a hub binary carries. Plugin
// shared objects loaded at process start funnel into the same registry.
package addon

// AddOn is the lifecycle contract every protocol add-on implements.
// A HomeKit bridge, a vendor MQTT extension and a Home Assistant mirror all
// look the same to the runtime through this interface.
type AddOn interface {
	// Name returns the stable identifier of the add-on. It must equal the
	// name of the Descriptor the add-on was created from.
	Name() string

	// Init performs all protocol-specific startup.
	// - Opens network listeners, starts discovery, registers handlers
	// - Starts any background goroutines the protocol needs
	// - Returns error if startup fails; Destroy is still called afterwards
	//
	// The runtime calls Init at most once per instance.
	Init() error

	// Destroy releases everything Init acquired.
	// - Must tolerate a partially failed or never-run Init
	// - Stops background goroutines
	// - Returned errors are reported but never stop the hub's shutdown
	Destroy() error
}

// Factory binds a configuration slice and the shared storage handle into a
// configured but not yet initialized add-on. Create must not start any
// background work.
type Factory interface {
	Create(ctx *Context) (AddOn, error)
}

// FactoryFunc adapts an ordinary function to the Factory interface.
type FactoryFunc func(ctx *Context) (AddOn, error)

// Create calls f(ctx).
func (f FactoryFunc) Create(ctx *Context) (AddOn, error) {
	return f(ctx)
}

// Source enumerates the add-on descriptors available to the runtime, in the
// order they should be started. Registry implements Source.
type Source interface {
	Discover() []Descriptor
}
