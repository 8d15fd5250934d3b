// Package config loads the hub configuration.
//
// Configuration comes from a single YAML file. Values can be overridden by
// HOMEHUB_* environment variables, which in turn may come from a .env file
// loaded by the CLI before Load runs. String values inside the addons section
// are expanded with os.ExpandEnv so secrets such as access tokens can stay out
// of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"homehub/pkg/addon"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Logging LoggingConfig             `yaml:"logging"`
	Storage StorageConfig             `yaml:"storage"`
	API     APIConfig                 `yaml:"api"`
	Runtime RuntimeConfig             `yaml:"runtime"`
	Plugins PluginsConfig             `yaml:"plugins"`
	AddOns  map[string]map[string]any `yaml:"addons"`
}

// LoggingConfig selects the zap logger flavour.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// StorageConfig describes the storage handle shared by all add-ons.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains the host HTTP API settings.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RuntimeConfig contains add-on runtime settings.
type RuntimeConfig struct {
	// StartupTimeout bounds the whole add-on startup sequence. Zero disables
	// the watchdog.
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// PluginsConfig points at the directory scanned for add-on shared objects.
type PluginsConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.AddOns = expandAddOns(cfg.AddOns)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Driver:      DriverSQLite,
			Path:        "./data/homehub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Port:    8080,
		},
		Runtime: RuntimeConfig{
			StartupTimeout: 2 * time.Minute,
		},
	}
}

// applyEnvOverrides applies HOMEHUB_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HOMEHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HOMEHUB_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("HOMEHUB_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("HOMEHUB_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("HOMEHUB_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HOMEHUB_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv("HOMEHUB_PLUGINS_DIR"); v != "" {
		cfg.Plugins.Dir = v
	}
	if v := os.Getenv("HOMEHUB_STARTUP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HOMEHUB_STARTUP_TIMEOUT: %w", err)
		}
		cfg.Runtime.StartupTimeout = d
	}
	return nil
}

func expandAddOns(in map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(in))
	for name, values := range in {
		expanded := make(map[string]any, len(values))
		for k, v := range values {
			expanded[k] = expandValue(v)
		}
		out[name] = expanded
	}
	return out
}

func expandValue(v any) any {
	switch t := v.(type) {
	case string:
		return os.ExpandEnv(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = expandValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = expandValue(item)
		}
		return out
	default:
		return v
	}
}

// Validate checks the configuration for errors. All problems are returned
// together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
		if c.Storage.BusyTimeout < 0 {
			errs = append(errs, errors.New("storage.busy_timeout cannot be negative"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be sqlite or memory", c.Storage.Driver))
	}

	if c.API.Enabled && (c.API.Port < 0 || c.API.Port > 65535) {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if c.Runtime.StartupTimeout < 0 {
		errs = append(errs, errors.New("runtime.startup_timeout cannot be negative"))
	}

	for name, values := range c.AddOns {
		if name == "" {
			errs = append(errs, errors.New("addons: empty add-on name"))
			continue
		}
		if values == nil {
			errs = append(errs, fmt.Errorf("addons.%s: must be a mapping", name))
		}
	}

	return errors.Join(errs...)
}

// Slice returns the immutable configuration slice for one add-on. Add-ons
// without a section get an empty slice.
func (c *Config) Slice(name string) addon.Config {
	return addon.NewConfig(name, c.AddOns[name])
}
