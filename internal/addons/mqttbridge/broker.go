package mqttbridge

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// disconnectQuiesce is the time to wait for pending operations on disconnect.
	disconnectQuiesce = 250 // milliseconds

	keepAlive = 60 * time.Second

	tlsMinVersion = tls.VersionTLS12
)

// MessageHandler receives a message delivered on a subscription.
type MessageHandler func(topic string, payload []byte)

// Broker is the subset of an MQTT client the bridge needs.
type Broker interface {
	Connect() error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
	Disconnect()
}

// pahoBroker adapts paho.mqtt.golang to Broker.
type pahoBroker struct {
	client  pahomqtt.Client
	timeout time.Duration
}

// newPahoBroker builds a paho client. onConnect runs after every successful
// (re)connect; onLost runs when an established connection drops.
func newPahoBroker(cfg Config, onConnect func(), onLost func(error)) Broker {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})

	// Initial connect is retried by the bridge; later drops are retried by paho.
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(true)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if onConnect != nil {
			onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if onLost != nil {
			onLost(err)
		}
	})

	return &pahoBroker{client: pahomqtt.NewClient(opts), timeout: cfg.ConnectTimeout}
}

func (b *pahoBroker) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("connect timeout after %v", b.timeout)
	}
	return token.Error()
}

func (b *pahoBroker) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := b.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("subscribe %s: timeout after %v", topic, b.timeout)
	}
	return token.Error()
}

func (b *pahoBroker) Unsubscribe(topic string) error {
	token := b.client.Unsubscribe(topic)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("unsubscribe %s: timeout after %v", topic, b.timeout)
	}
	return token.Error()
}

func (b *pahoBroker) Disconnect() {
	if b.client.IsConnected() {
		b.client.Disconnect(disconnectQuiesce)
	}
}
