package homekit

import (
	"regexp"

	"homehub/pkg/addon"
)

// Option keys in the homekit configuration section.
const (
	keyPort        = "port"
	keyPIN         = "pin"
	keyBridgeName  = "bridge_name"
	keyHostname    = "hostname"
	keyAdvertise   = "advertise"
	keyAccessories = "accessories"
	keyInterface   = "mdns_interface"
)

// Defaults
const (
	defaultBridgeName = "Homehub Bridge"
	defaultHostname   = "homehub"
)

var pinPattern = regexp.MustCompile(`^\d{3}-\d{2}-\d{3}$`)

// Config is the validated homekit configuration.
type Config struct {
	Port        int
	PIN         string
	BridgeName  string
	Hostname    string
	Advertise   bool
	Accessories []string

	// Interface restricts the mDNS advertisement to one network interface.
	// Empty means all multicast-capable interfaces.
	Interface string
}

// parseConfig validates the slice. It never touches the network or storage.
func parseConfig(c addon.Config) (Config, error) {
	var cfg Config
	var err error

	if cfg.Port, err = c.RequireInt(keyPort); err != nil {
		return cfg, err
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return cfg, addon.Configurationf("%s.%s %d out of range", c.AddOnName(), keyPort, cfg.Port)
	}

	if cfg.PIN, err = c.RequireString(keyPIN); err != nil {
		return cfg, err
	}
	if !pinPattern.MatchString(cfg.PIN) {
		return cfg, addon.Configurationf("%s.%s must look like 123-45-678", c.AddOnName(), keyPIN)
	}

	if cfg.BridgeName, err = c.String(keyBridgeName, defaultBridgeName); err != nil {
		return cfg, err
	}
	if cfg.Hostname, err = c.String(keyHostname, defaultHostname); err != nil {
		return cfg, err
	}
	if cfg.Advertise, err = c.Bool(keyAdvertise, true); err != nil {
		return cfg, err
	}
	if cfg.Accessories, err = c.Strings(keyAccessories); err != nil {
		return cfg, err
	}
	if cfg.Interface, err = c.String(keyInterface, ""); err != nil {
		return cfg, err
	}

	seen := make(map[string]bool, len(cfg.Accessories))
	for _, name := range cfg.Accessories {
		if name == "" {
			return cfg, addon.Configurationf("%s.%s contains an empty name", c.AddOnName(), keyAccessories)
		}
		if seen[name] {
			return cfg, addon.Configurationf("%s.%s lists %q twice", c.AddOnName(), keyAccessories, name)
		}
		seen[name] = true
	}

	return cfg, nil
}
