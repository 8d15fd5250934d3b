package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "homehub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.True(t, cfg.Storage.WALMode)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 2*time.Minute, cfg.Runtime.StartupTimeout)
	assert.Empty(t, cfg.AddOns)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: console
storage:
  driver: memory
api:
  port: 9090
runtime:
  startup_timeout: 45s
plugins:
  dir: /usr/lib/homehub
addons:
  homekit:
    port: 51826
    pin: "031-45-154"
    accessories: [lamp, door]
  mqttbridge:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 45*time.Second, cfg.Runtime.StartupTimeout)
	assert.Equal(t, "/usr/lib/homehub", cfg.Plugins.Dir)

	hk := cfg.Slice("homekit")
	assert.Equal(t, "homekit", hk.AddOnName())
	port, err := hk.RequireInt("port")
	require.NoError(t, err)
	assert.Equal(t, 51826, port)
	accessories, err := hk.Strings("accessories")
	require.NoError(t, err)
	assert.Equal(t, []string{"lamp", "door"}, accessories)

	enabled, err := cfg.Slice("mqttbridge").Enabled()
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestLoad_MissingSectionGivesEmptySlice(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	slice := cfg.Slice("unknown")
	assert.Empty(t, slice.Keys())
	enabled, err := slice.Enabled()
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOMEHUB_LOG_LEVEL", "warn")
	t.Setenv("HOMEHUB_STORAGE_PATH", "/var/lib/homehub/hub.db")
	t.Setenv("HOMEHUB_API_PORT", "8181")
	t.Setenv("HOMEHUB_STARTUP_TIMEOUT", "10s")
	t.Setenv("HOMEHUB_PLUGINS_DIR", "/opt/addons")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/homehub/hub.db", cfg.Storage.Path)
	assert.Equal(t, 8181, cfg.API.Port)
	assert.Equal(t, 10*time.Second, cfg.Runtime.StartupTimeout)
	assert.Equal(t, "/opt/addons", cfg.Plugins.Dir)
}

func TestLoad_BadEnvOverride(t *testing.T) {
	t.Setenv("HOMEHUB_API_PORT", "eighty")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_ExpandsAddOnStrings(t *testing.T) {
	t.Setenv("HA_TOKEN", "secret-token")
	path := writeConfig(t, `
addons:
  homeassistant:
    url: ws://ha.local:8123/api/websocket
    token: ${HA_TOKEN}
    entities: ["light.${HA_TOKEN}"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	token, err := cfg.Slice("homeassistant").RequireString("token")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)

	entities, err := cfg.Slice("homeassistant").Strings("entities")
	require.NoError(t, err)
	assert.Equal(t, []string{"light.secret-token"}, entities)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			content: "logging: [",
			wantErr: "parsing config file",
		},
		{
			name:    "bad log level",
			content: "logging:\n  level: loud\n",
			wantErr: "logging.level",
		},
		{
			name:    "bad driver",
			content: "storage:\n  driver: postgres\n",
			wantErr: "storage.driver",
		},
		{
			name:    "sqlite without path",
			content: "storage:\n  driver: sqlite\n  path: \"\"\n",
			wantErr: "storage.path",
		},
		{
			name:    "port out of range",
			content: "api:\n  port: 70000\n",
			wantErr: "api.port",
		},
		{
			name:    "negative timeout",
			content: "runtime:\n  startup_timeout: -1s\n",
			wantErr: "runtime.startup_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	cfg.Storage.Driver = "tape"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "storage.driver")
}
