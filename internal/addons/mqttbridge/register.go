// Package mqttbridge exposes vendor devices that publish their state over
// MQTT. Each message on <topic_prefix>/<device>/state is stored under the
// device name in the mqttbridge storage namespace.
package mqttbridge

import (
	"homehub/pkg/addon"
)

// Name is the registry name of the add-on.
const Name = "mqttbridge"

func init() {
	addon.MustRegister(addon.Descriptor{
		Name:        Name,
		Description: "MQTT vendor extension - mirrors device state topics into storage",
		Factory:     addon.FactoryFunc(createAddOn),
	})
}

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
