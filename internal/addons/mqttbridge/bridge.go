package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"homehub/pkg/addon"
)

const (
	storageNamespace = "mqttbridge"

	storeTimeout   = 5 * time.Second
	releaseTimeout = 5 * time.Second
)

// Stats counts bridge activity.
type Stats struct {
	Received uint64
	Stored   uint64
	Dropped  uint64
}

// Bridge subscribes to vendor device state topics and writes every state
// message into hub storage, and optionally into InfluxDB.
type Bridge struct {
	config  Config
	storage addon.Storage
	logger  *zap.Logger

	// Replaceable for testing.
	newBroker  func(cfg Config, onConnect func(), onLost func(error)) Broker
	newHistory func(cfg InfluxConfig, logger *zap.Logger) (History, error)
	newBackOff func() backoff.BackOff
	now        func() time.Time

	mu         sync.Mutex
	broker     Broker
	pool       *ants.Pool
	history    History
	subscribed bool

	received atomic.Uint64
	stored   atomic.Uint64
	dropped  atomic.Uint64
}

// NewBridge creates a bridge. Nothing is opened until Start.
func NewBridge(cfg Config, storage addon.Storage, logger *zap.Logger) *Bridge {
	return &Bridge{
		config:     cfg,
		storage:    storage,
		logger:     logger,
		newBroker:  newPahoBroker,
		newHistory: newInfluxHistory,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 10 * time.Second
			return b
		},
		now: time.Now,
	}
}

// Start opens the worker pool and history writer, connects to the broker
// and subscribes to <prefix>/+/state.
func (b *Bridge) Start() error {
	b.logger.Info("Starting MQTT bridge",
		zap.String("broker", b.config.Broker),
		zap.String("topic", b.config.stateTopic()),
		zap.Int("workers", b.config.Workers))

	if b.storage == nil {
		return errors.New("mqtt bridge requires a storage handle")
	}

	pool, err := ants.NewPool(b.config.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			b.logger.Error("Message handler panicked", zap.Any("panic", p))
		}))
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}

	var history History = nopHistory{}
	if b.config.Influx.Enabled() {
		if history, err = b.newHistory(b.config.Influx, b.logger); err != nil {
			pool.Release()
			return fmt.Errorf("opening state history: %w", err)
		}
	}

	broker := b.newBroker(b.config, b.handleConnect, b.handleConnectionLost)

	b.mu.Lock()
	b.pool, b.history, b.broker = pool, history, broker
	b.mu.Unlock()

	policy := backoff.WithMaxRetries(b.newBackOff(), uint64(b.config.ConnectRetries))
	err = backoff.RetryNotify(broker.Connect, policy, func(err error, wait time.Duration) {
		b.logger.Warn("MQTT connection failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", b.config.Broker, err)
	}

	if err := broker.Subscribe(b.config.stateTopic(), b.config.QoS, b.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.config.stateTopic(), err)
	}
	b.mu.Lock()
	b.subscribed = true
	b.mu.Unlock()

	b.logger.Info("MQTT bridge subscribed", zap.String("topic", b.config.stateTopic()))
	return nil
}

// handleConnect restores the subscription after paho reconnects.
func (b *Bridge) handleConnect() {
	b.mu.Lock()
	broker, subscribed := b.broker, b.subscribed
	b.mu.Unlock()
	if !subscribed || broker == nil {
		return
	}
	go func() {
		if err := broker.Subscribe(b.config.stateTopic(), b.config.QoS, b.handleMessage); err != nil {
			b.logger.Error("Failed to restore subscription", zap.Error(err))
			return
		}
		b.logger.Info("MQTT subscription restored")
	}()
}

func (b *Bridge) handleConnectionLost(err error) {
	b.logger.Warn("MQTT connection lost, reconnecting", zap.Error(err))
}

// handleMessage runs on the paho delivery goroutine and hands the work to
// the pool so a slow store never blocks the client.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	b.received.Add(1)

	device, ok := b.config.deviceFromTopic(topic)
	if !ok {
		b.dropped.Add(1)
		b.logger.Debug("Ignoring message on unexpected topic", zap.String("topic", topic))
		return
	}

	b.mu.Lock()
	pool := b.pool
	b.mu.Unlock()
	if pool == nil {
		b.dropped.Add(1)
		return
	}

	data := append([]byte(nil), payload...)
	at := b.now()
	if err := pool.Submit(func() { b.storeState(device, data, at) }); err != nil {
		b.dropped.Add(1)
		b.logger.Warn("Dropping state message", zap.String("device", device), zap.Error(err))
	}
}

func (b *Bridge) storeState(device string, payload []byte, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := b.storage.Put(ctx, storageNamespace, device, payload); err != nil {
		b.dropped.Add(1)
		b.logger.Error("Failed to store device state", zap.String("device", device), zap.Error(err))
		return
	}
	b.stored.Add(1)

	b.mu.Lock()
	history := b.history
	b.mu.Unlock()
	if history != nil {
		history.Record(device, payload, at)
	}
}

// Stats returns message counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received: b.received.Load(),
		Stored:   b.stored.Load(),
		Dropped:  b.dropped.Load(),
	}
}

// Stop unsubscribes, disconnects, drains the worker pool and flushes the
// history writer. It is safe after a partial Start and safe to call twice.
func (b *Bridge) Stop() error {
	b.logger.Info("Stopping MQTT bridge", zap.Any("stats", b.Stats()))

	b.mu.Lock()
	broker, pool, subscribed := b.broker, b.pool, b.subscribed
	b.broker, b.subscribed = nil, false
	b.mu.Unlock()

	var err error
	if broker != nil {
		if subscribed {
			if unsubErr := broker.Unsubscribe(b.config.stateTopic()); unsubErr != nil {
				err = multierr.Append(err, fmt.Errorf("unsubscribing: %w", unsubErr))
			}
		}
		broker.Disconnect()
	}

	if pool != nil {
		if releaseErr := pool.ReleaseTimeout(releaseTimeout); releaseErr != nil {
			err = multierr.Append(err, fmt.Errorf("draining worker pool: %w", releaseErr))
		}
	}

	b.mu.Lock()
	history := b.history
	b.pool, b.history = nil, nil
	b.mu.Unlock()
	if history != nil {
		history.Close()
	}

	return err
}
