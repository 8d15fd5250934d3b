package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"homehub/pkg/addon"
)

const storageNamespace = "homeassistant"

// Mirror copies Home Assistant entity states into hub storage and keeps them
// in sync from state_changed events.
type Mirror struct {
	config   Config
	storage  addon.Storage
	logger   *zap.Logger
	client   *Client
	onFailed func(error)

	// applied holds the newest last_updated written per entity. Events can
	// land between subscribing and the snapshot reply, so the snapshot must
	// not overwrite them.
	mu      sync.Mutex
	applied map[string]appliedState

	// newBackOff is replaceable for testing.
	newBackOff func() backoff.BackOff
}

// NewMirror creates a mirror. onFailed is called once if the connection is
// lost after Start.
func NewMirror(cfg Config, storage addon.Storage, logger *zap.Logger, onFailed func(error)) *Mirror {
	m := &Mirror{
		config:   cfg,
		storage:  storage,
		logger:   logger,
		onFailed: onFailed,
		applied:  make(map[string]appliedState),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	m.client = NewClient(cfg.URL, cfg.Token, cfg.RequestTimeout, logger)
	m.client.OnEvent(m.handleStateChanged)
	m.client.OnDisconnect(m.handleConnectionLost)
	return m
}

// Start connects, takes a snapshot of all states and subscribes to changes.
func (m *Mirror) Start() error {
	m.logger.Info("Starting Home Assistant mirror", zap.String("url", m.config.URL))

	if m.storage == nil {
		return errors.New("homeassistant mirror requires a storage handle")
	}

	connect := func() error {
		err := m.client.Connect()
		if errors.Is(err, ErrAuthentication) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithMaxRetries(m.newBackOff(), uint64(m.config.ConnectRetries))
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("Home Assistant connection failed, retrying",
			zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return err
	}

	if err := m.client.SubscribeStateChanges(); err != nil {
		return fmt.Errorf("subscribing to state changes: %w", err)
	}

	states, err := m.client.GetAllStates()
	if err != nil {
		return fmt.Errorf("fetching states: %w", err)
	}
	mirrored := 0
	for _, s := range states {
		if !m.config.matches(s.EntityID) {
			continue
		}
		stored, err := m.store(s)
		if err != nil {
			return err
		}
		if stored {
			mirrored++
		}
	}

	m.logger.Info("Home Assistant states mirrored", zap.Int("entities", mirrored))
	return nil
}

// Stop disconnects. It is safe to call when Start failed or never ran.
func (m *Mirror) Stop() error {
	m.logger.Info("Stopping Home Assistant mirror")
	return m.client.Disconnect()
}

type appliedState struct {
	lastUpdated time.Time
	removed     bool
}

// stale reports whether s is older than what is already mirrored. A removed
// entity only comes back with a strictly newer state.
func (a appliedState) stale(s *State) bool {
	if a.removed {
		return !s.LastUpdated.After(a.lastUpdated)
	}
	return s.LastUpdated.Before(a.lastUpdated)
}

// store writes s unless a newer state for the entity was already written.
func (m *Mirror) store(s *State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.applied[s.EntityID]; ok && prev.stale(s) {
		m.logger.Debug("Skipping stale state",
			zap.String("entity_id", s.EntityID),
			zap.Time("last_updated", s.LastUpdated),
			zap.Time("mirrored", prev.lastUpdated))
		return false, nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("encoding %s: %w", s.EntityID, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()
	if err := m.storage.Put(ctx, storageNamespace, s.EntityID, data); err != nil {
		return false, fmt.Errorf("storing %s: %w", s.EntityID, err)
	}
	m.applied[s.EntityID] = appliedState{lastUpdated: s.LastUpdated}
	return true, nil
}

// remove deletes the entity and leaves a marker so an older snapshot entry
// cannot bring it back.
func (m *Mirror) remove(ev StateChangedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var at time.Time
	if ev.OldState != nil {
		at = ev.OldState.LastUpdated
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()
	if err := m.storage.Delete(ctx, storageNamespace, ev.EntityID); err != nil {
		return err
	}
	m.applied[ev.EntityID] = appliedState{lastUpdated: at, removed: true}
	return nil
}

func (m *Mirror) handleStateChanged(ev StateChangedEvent) {
	if ev.EntityID == "" || !m.config.matches(ev.EntityID) {
		return
	}

	if ev.NewState == nil {
		if err := m.remove(ev); err != nil {
			m.logger.Error("Failed to remove entity", zap.String("entity_id", ev.EntityID), zap.Error(err))
		}
		return
	}

	stored, err := m.store(ev.NewState)
	if err != nil {
		m.logger.Error("Failed to mirror state change", zap.String("entity_id", ev.EntityID), zap.Error(err))
		return
	}
	if stored {
		m.logger.Debug("State mirrored",
			zap.String("entity_id", ev.EntityID),
			zap.String("state", ev.NewState.State))
	}
}

func (m *Mirror) handleConnectionLost(err error) {
	m.logger.Error("Lost connection to Home Assistant", zap.Error(err))
	if m.onFailed != nil {
		m.onFailed(fmt.Errorf("home assistant connection lost: %w", err))
	}
}
