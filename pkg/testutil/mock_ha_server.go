// Package testutil provides testing utilities for homehub add-ons.
// It contains a mock Home Assistant WebSocket server and a hub harness for
// end-to-end tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) writeJSON(v any) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.WriteJSON(v)
}

// MockHAServer simulates the parts of the Home Assistant WebSocket API the
// mirror add-on uses: auth, get_states, subscribe_events and state_changed
// events.
type MockHAServer struct {
	server *httptest.Server
	token  string

	statesMu sync.RWMutex
	states   map[string]*EntityState

	connsMu     sync.Mutex
	connections []*connWrapper
	accepted    int
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Event represents a Home Assistant event
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

type request struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// NewMockHAServer starts a mock server accepting token.
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:  token,
		states: make(map[string]*EntityState),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the WebSocket endpoint of the server.
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Close drops every connection and stops the server.
func (s *MockHAServer) Close() {
	s.DropConnections()
	s.server.Close()
}

// DropConnections closes every authenticated connection, as Home Assistant
// does when it restarts.
func (s *MockHAServer) DropConnections() {
	s.connsMu.Lock()
	conns := s.connections
	s.connections = nil
	s.connsMu.Unlock()

	for _, w := range conns {
		w.conn.Close()
	}
}

// Accepted returns the number of connections that passed authentication.
func (s *MockHAServer) Accepted() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.accepted
}

// SetState sets a state and broadcasts the change event
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]any) {
	now := time.Now()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	s.statesMu.Lock()
	oldState := s.states[entityID]
	s.states[entityID] = newState
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, newState)
}

// RemoveState deletes an entity and broadcasts a change event with no new
// state.
func (s *MockHAServer) RemoveState(entityID string) {
	s.statesMu.Lock()
	oldState := s.states[entityID]
	delete(s.states, entityID)
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, nil)
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wrapper := &connWrapper{conn: conn}
	defer func() {
		s.removeConnection(wrapper)
		conn.Close()
	}()

	wrapper.writeJSON(Message{Type: "auth_required"})

	var auth authMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.writeJSON(Message{Type: "auth_invalid"})
		return
	}
	wrapper.writeJSON(Message{Type: "auth_ok"})

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.accepted++
	s.connsMu.Unlock()

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		success := true
		resp := Message{ID: req.ID, Type: "result", Success: &success}
		switch req.Type {
		case "get_states":
			resp.Result, _ = json.Marshal(s.snapshot())
		case "subscribe_events":
		default:
			success = false
		}
		wrapper.writeJSON(resp)
	}
}

func (s *MockHAServer) removeConnection(wrapper *connWrapper) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for i, w := range s.connections {
		if w == wrapper {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			return
		}
	}
}

func (s *MockHAServer) snapshot() []*EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()

	states := make([]*EntityState, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })
	return states
}

// broadcastStateChange broadcasts a state change event to all connections
func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	data, _ := json.Marshal(StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})

	msg := Message{
		Type: "event",
		Event: &Event{
			EventType: "state_changed",
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := append([]*connWrapper(nil), s.connections...)
	s.connsMu.Unlock()

	for _, w := range wrappers {
		w.writeJSON(msg)
	}
}
