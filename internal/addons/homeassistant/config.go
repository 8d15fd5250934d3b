package homeassistant

import (
	"strings"
	"time"

	"homehub/pkg/addon"
)

// Config is the validated homeassistant configuration.
type Config struct {
	URL            string
	Token          string
	Entities       []string
	ConnectRetries int
	RequestTimeout time.Duration
}

func parseConfig(c addon.Config) (Config, error) {
	var cfg Config
	var err error

	if cfg.URL, err = c.RequireString("url"); err != nil {
		return cfg, err
	}
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return cfg, addon.Configurationf("%s.url must be a ws:// or wss:// URL", c.AddOnName())
	}
	if cfg.Token, err = c.RequireString("token"); err != nil {
		return cfg, err
	}
	if cfg.Entities, err = c.Strings("entities"); err != nil {
		return cfg, err
	}
	if cfg.ConnectRetries, err = c.Int("connect_retries", 3); err != nil {
		return cfg, err
	}
	if cfg.ConnectRetries < 0 {
		return cfg, addon.Configurationf("%s.connect_retries cannot be negative", c.AddOnName())
	}
	if cfg.RequestTimeout, err = c.Duration("request_timeout", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout <= 0 {
		return cfg, addon.Configurationf("%s.request_timeout must be positive", c.AddOnName())
	}
	return cfg, nil
}

// matches reports whether entityID passes the entity filter. Entries ending
// in "." match a whole domain, e.g. "light.". An empty filter matches all.
func (c Config) matches(entityID string) bool {
	if len(c.Entities) == 0 {
		return true
	}
	for _, f := range c.Entities {
		if f == entityID || (strings.HasSuffix(f, ".") && strings.HasPrefix(entityID, f)) {
			return true
		}
	}
	return false
}
