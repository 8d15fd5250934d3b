package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by requests made without a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAuthentication is returned when Home Assistant rejects the token.
	ErrAuthentication = errors.New("authentication failed")
)

// EventHandler receives state_changed events.
type EventHandler func(ev StateChangedEvent)

// Client is a Home Assistant WebSocket API client. It does not reconnect on
// its own: connection loss is reported through the disconnect callback and
// the owner decides what to do.
type Client struct {
	url            string
	token          string
	logger         *zap.Logger
	requestTimeout time.Duration

	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex // Protects websocket writes

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	handler      EventHandler
	onDisconnect func(error)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a new Home Assistant WebSocket client
func NewClient(url, token string, requestTimeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		url:            url,
		token:          token,
		logger:         logger,
		requestTimeout: requestTimeout,
		pending:        make(map[int]chan Message),
	}
}

// OnEvent sets the state_changed handler. Call before Connect.
func (c *Client) OnEvent(h EventHandler) {
	c.handler = h
}

// OnDisconnect sets the callback run when the connection drops without
// Disconnect being called. Call before Connect.
func (c *Client) OnDisconnect(fn func(error)) {
	c.onDisconnect = fn
}

// Connect establishes WebSocket connection and authenticates
func (c *Client) Connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.requestTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	if err := authenticate(conn, c.token); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.connected = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	c.logger.Info("Connected to Home Assistant", zap.String("url", c.url))

	go c.receiveMessages(c.ctx, conn, c.done)
	return nil
}

func authenticate(conn *websocket.Conn, token string) error {
	var authRequired Message
	if err := conn.ReadJSON(&authRequired); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if authRequired.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := conn.ReadJSON(&authResponse); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch authResponse.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("%w: invalid token", ErrAuthentication)
	default:
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	if !c.connected {
		c.connMu.Unlock()
		return nil
	}
	c.connected = false
	c.cancel()
	conn, done := c.conn, c.done
	c.conn = nil
	c.connMu.Unlock()

	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := conn.Close()

	<-done
	c.logger.Info("Disconnected from Home Assistant")
	return err
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// send writes a request and waits for its result
func (c *Client) send(req request) (*Message, error) {
	c.connMu.RLock()
	conn, ctx := c.conn, c.ctx
	connected := c.connected
	c.connMu.RUnlock()
	if !connected {
		return nil, ErrNotConnected
	}

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for %s response", req.Type)
	case <-ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages handles incoming messages in the background
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Connection lost", zap.Error(err))
			c.handleDisconnect(err)
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" || c.handler == nil {
		return
	}

	var ev StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &ev); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}
	c.handler(ev)
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if wasConnected && c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// GetAllStates retrieves all entity states
func (c *Client) GetAllStates() ([]*State, error) {
	resp, err := c.send(request{ID: c.nextMsgID(), Type: "get_states"})
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}
	return states, nil
}

// SubscribeStateChanges subscribes to all state_changed events
func (c *Client) SubscribeStateChanges() error {
	_, err := c.send(request{ID: c.nextMsgID(), Type: "subscribe_events", EventType: "state_changed"})
	return err
}
