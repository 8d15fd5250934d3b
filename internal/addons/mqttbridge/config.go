package mqttbridge

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"homehub/pkg/addon"
)

// Connection defaults.
const (
	defaultTopicPrefix    = "vendor"
	defaultQoS            = 1
	defaultWorkers        = 4
	defaultConnectTimeout = 10 * time.Second
	defaultConnectRetries = 3

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// Config is the validated mqttbridge configuration.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	Workers        int
	ConnectTimeout time.Duration
	ConnectRetries int

	Influx InfluxConfig
}

// InfluxConfig enables the optional state history writer.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether history should be written.
func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

func parseConfig(c addon.Config) (Config, error) {
	var cfg Config
	var err error
	name := c.AddOnName()

	if cfg.Broker, err = c.RequireString("broker"); err != nil {
		return cfg, err
	}
	if !hasAnyPrefix(cfg.Broker, "tcp://", "ssl://", "tls://", "ws://", "wss://", "mqtt://", "mqtts://") {
		return cfg, addon.Configurationf("%s.broker %q has no supported scheme", name, cfg.Broker)
	}
	if cfg.ClientID, err = c.String("client_id", ""); err != nil {
		return cfg, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "homehub-" + uuid.NewString()[:8]
	}
	if cfg.Username, err = c.String("username", ""); err != nil {
		return cfg, err
	}
	if cfg.Password, err = c.String("password", ""); err != nil {
		return cfg, err
	}

	if cfg.TopicPrefix, err = c.String("topic_prefix", defaultTopicPrefix); err != nil {
		return cfg, err
	}
	cfg.TopicPrefix = strings.Trim(cfg.TopicPrefix, "/")
	if cfg.TopicPrefix == "" || strings.ContainsAny(cfg.TopicPrefix, "+#") {
		return cfg, addon.Configurationf("%s.topic_prefix must be a non-empty topic without wildcards", name)
	}

	qos, err := c.Int("qos", defaultQoS)
	if err != nil {
		return cfg, err
	}
	if qos < 0 || qos > maxQoS {
		return cfg, addon.Configurationf("%s.qos must be 0, 1 or 2", name)
	}
	cfg.QoS = byte(qos)

	if cfg.Workers, err = c.Int("workers", defaultWorkers); err != nil {
		return cfg, err
	}
	if cfg.Workers < 1 {
		return cfg, addon.Configurationf("%s.workers must be at least 1", name)
	}
	if cfg.ConnectTimeout, err = c.Duration("connect_timeout", defaultConnectTimeout); err != nil {
		return cfg, err
	}
	if cfg.ConnectTimeout <= 0 {
		return cfg, addon.Configurationf("%s.connect_timeout must be positive", name)
	}
	if cfg.ConnectRetries, err = c.Int("connect_retries", defaultConnectRetries); err != nil {
		return cfg, err
	}
	if cfg.ConnectRetries < 0 {
		return cfg, addon.Configurationf("%s.connect_retries cannot be negative", name)
	}

	if cfg.Influx.URL, err = c.String("influx_url", ""); err != nil {
		return cfg, err
	}
	if cfg.Influx.Enabled() {
		if cfg.Influx.Token, err = c.RequireString("influx_token"); err != nil {
			return cfg, err
		}
		if cfg.Influx.Org, err = c.RequireString("influx_org"); err != nil {
			return cfg, err
		}
		if cfg.Influx.Bucket, err = c.RequireString("influx_bucket"); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// stateTopic is the subscription filter for device state messages.
func (c Config) stateTopic() string {
	return c.TopicPrefix + "/+/state"
}

// deviceFromTopic extracts <device> from <prefix>/<device>/state.
func (c Config) deviceFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, c.TopicPrefix+"/")
	if !ok {
		return "", false
	}
	device, ok := strings.CutSuffix(rest, "/state")
	if !ok || device == "" || strings.Contains(device, "/") {
		return "", false
	}
	return device, true
}
