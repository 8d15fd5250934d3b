// Package homekit bridges hub accessories to Apple HomeKit.
//
// The add-on keeps a persistent bridge identity in storage, serves the HAP
// accessory database over HTTP and advertises itself as _hap._tcp over
// multicast DNS. Pairing and encrypted sessions are not implemented; the
// accessory database is served in the clear.
package homekit

import (
	"homehub/pkg/addon"
)

// Name is the registry name of the add-on.
const Name = "homekit"

func init() {
	addon.MustRegister(addon.Descriptor{
		Name:        Name,
		Description: "HomeKit bridge - accessory database and Bonjour advertisement",
		Factory:     addon.FactoryFunc(createAddOn),
	})
}

// createAddOn validates the configuration and builds the bridge. No socket
// or storage access happens here.
func createAddOn(ctx *addon.Context) (addon.AddOn, error) {
	cfg, err := parseConfig(ctx.Config)
	if err != nil {
		return nil, err
	}
	return &addOnAdapter{bridge: NewBridge(cfg, ctx.Storage, ctx.Logger)}, nil
}

// addOnAdapter wraps the Bridge to implement the addon.AddOn interface.
type addOnAdapter struct {
	bridge *Bridge
}

func (a *addOnAdapter) Name() string {
	return Name
}

func (a *addOnAdapter) Init() error {
	return a.bridge.Start()
}

func (a *addOnAdapter) Destroy() error {
	return a.bridge.Stop()
}

// Bridge returns the underlying Bridge.
func (a *addOnAdapter) Bridge() *Bridge {
	return a.bridge
}
