package homekit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/mdns"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"homehub/pkg/addon"
)

const shutdownTimeout = 5 * time.Second

// Bridge exposes the configured accessories to HomeKit controllers: an HTTP
// endpoint serving the accessory database and an mDNS advertisement.
type Bridge struct {
	config  Config
	storage addon.Storage
	logger  *zap.Logger

	// newUUID and startMDNS are replaceable for testing.
	newUUID   func() uuid.UUID
	startMDNS func(cfg *mdns.Config) (advertiser, error)

	mu         sync.Mutex
	identity   *Identity
	listener   net.Listener
	server     *http.Server
	advertiser advertiser
}

// NewBridge creates a bridge. Nothing is opened until Start.
func NewBridge(cfg Config, storage addon.Storage, logger *zap.Logger) *Bridge {
	return &Bridge{
		config:     cfg,
		storage:    storage,
		logger:     logger,
		newUUID:   uuid.New,
		startMDNS: startMDNSServer,
	}
}

// Start loads the bridge identity, opens the accessory server and, when
// enabled, starts advertising.
func (b *Bridge) Start() error {
	b.logger.Info("Starting HomeKit bridge",
		zap.String("bridge_name", b.config.BridgeName),
		zap.Int("port", b.config.Port),
		zap.Int("accessories", len(b.config.Accessories)))

	if b.storage == nil {
		return errors.New("homekit bridge requires a storage handle")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	identity, err := loadIdentity(ctx, b.storage, b.config.Accessories, b.newUUID)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", b.config.Port))
	if err != nil {
		return fmt.Errorf("opening accessory server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/accessories", b.handleAccessories)
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	b.mu.Lock()
	b.identity = identity
	b.listener = ln
	b.server = server
	b.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("Accessory server error", zap.Error(err))
		}
	}()

	b.logger.Info("Accessory server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("device_id", identity.DeviceID),
		zap.Int("config_number", identity.ConfigNumber))

	if !b.config.Advertise {
		return nil
	}

	port := b.config.Port
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	svc, err := newService(b.config.BridgeName, b.config.Hostname, port, localIPv4(),
		txtRecords(identity, b.config.BridgeName))
	if err != nil {
		return err
	}

	mdnsConfig := &mdns.Config{Zone: svc}
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err != nil {
			return fmt.Errorf("finding mDNS interface %s: %w", b.config.Interface, err)
		}
		mdnsConfig.Iface = iface
	}

	adv, err := b.startMDNS(mdnsConfig)
	if err != nil {
		return fmt.Errorf("starting mDNS advertisement: %w", err)
	}
	b.mu.Lock()
	b.advertiser = adv
	b.mu.Unlock()

	b.logger.Info("Advertising HomeKit bridge",
		zap.String("instance", svc.Instance),
		zap.String("host", svc.HostName),
		zap.Strings("txt", svc.TXT))
	return nil
}

// Addr returns the accessory server address, or "" before Start.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Identity returns the loaded bridge identity, or nil before Start.
func (b *Bridge) Identity() *Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity
}

// Stop closes whatever Start opened. It is safe after a partial Start and
// safe to call twice.
func (b *Bridge) Stop() error {
	b.logger.Info("Stopping HomeKit bridge")

	b.mu.Lock()
	adv, server, ln := b.advertiser, b.server, b.listener
	b.advertiser, b.server, b.listener = nil, nil, nil
	b.mu.Unlock()

	var err error
	if adv != nil {
		if shutdownErr := adv.Shutdown(); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("stopping mDNS advertisement: %w", shutdownErr))
		}
	}
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("stopping accessory server: %w", shutdownErr))
		}
		// Serve may not have picked the listener up yet.
		_ = ln.Close() //nolint:errcheck // Already closed when Serve was running
	}
	return err
}
