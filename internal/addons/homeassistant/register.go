// Package homeassistant mirrors Home Assistant entity states into hub
// storage over the Home Assistant WebSocket API.
package homeassistant

import (
	"homehub/pkg/addon"
)

// Name is the registry name of the add-on.
const Name = "homeassistant"

func init() {
	addon.MustRegister(addon.Descriptor{
		Name:        Name,
		Description: "Home Assistant mirror - copies entity states into hub storage",
		Factory:     addon.FactoryFunc(createAddOn),
	})
}

func createAddOn(ctx *addon.Context) (addon.AddOn, error) {
	cfg, err := parseConfig(ctx.Config)
	if err != nil {
		return nil, err
	}
	return &addOnAdapter{mirror: NewMirror(cfg, ctx.Storage, ctx.Logger, ctx.ReportFailure)}, nil
}

// addOnAdapter wraps the Mirror to implement the addon.AddOn interface.
type addOnAdapter struct {
	mirror *Mirror
}

func (a *addOnAdapter) Name() string {
	return Name
}

func (a *addOnAdapter) Init() error {
	return a.mirror.Start()
}

func (a *addOnAdapter) Destroy() error {
	return a.mirror.Stop()
}
