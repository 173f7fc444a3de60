// Package hatest provides an in-process fake of the Home Assistant WebSocket API for tests.
package hatest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ServiceCall is a call_service command received by the fake server.
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]any
}

// State is an entity state served by get_states and carried by state_changed events.
type State struct {
	EntityID   string         `json:"entity_id"`
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Server is a scripted Home Assistant WebSocket endpoint.
type Server struct {
	// Token is the accepted access token.
	Token string

	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	// mu guards every field below.
	mu sync.Mutex
	// conns are the authenticated client connections.
	conns map[*websocket.Conn]*session
	// states is served by get_states, keyed by entity id.
	states map[string]State
	// services maps domain to registered service names.
	services map[string][]string
	// calls records every call_service command.
	calls []ServiceCall
	// failing lists "domain.service" names answered with an error result.
	failing map[string]bool
	// getServices counts get_services requests.
	getServices int
	// notify receives a value after every recorded call.
	notify chan struct{}
}

// session is the per-connection protocol state.
type session struct {
	// subscriptions maps event type to subscription ids.
	subscriptions map[string][]int64
	// writeMu serializes writes on the connection.
	writeMu sync.Mutex
}

// NewServer starts a fake server accepting token.
func NewServer(token string) *Server {
	s := &Server{
		Token:    token,
		conns:    make(map[*websocket.Conn]*session),
		states:   make(map[string]State),
		services: make(map[string][]string),
		failing:  make(map[string]bool),
		notify:   make(chan struct{}, 1024),
	}

	s.httpServer = httptest.NewServer(http.HandlerFunc(s.serve))

	return s
}

// URL returns the WebSocket API URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/api/websocket"
}

// BaseURL returns the HTTP base URL of the server.
func (s *Server) BaseURL() string {
	return s.httpServer.URL
}

// Close shuts the server down and drops every connection.
func (s *Server) Close() {
	s.DropConnections()
	s.httpServer.Close()
}

// DropConnections closes all client connections, simulating a restart.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

// SetState stores the state served by get_states without emitting an event.
func (s *Server) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.EntityID] = state
}

// RegisterService adds domain.service to the registry.
func (s *Server) RegisterService(domain, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.services[domain] = append(s.services[domain], service)
}

// FailService makes calls to domain.service return an error result.
func (s *Server) FailService(domain, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failing[domain+"."+service] = true
}

// Calls returns a copy of the recorded service calls.
func (s *Server) Calls() []ServiceCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ServiceCall(nil), s.calls...)
}

// GetServicesCount returns how many get_services requests were served.
func (s *Server) GetServicesCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getServices
}

// WaitCalls blocks until at least n calls were recorded or timeout elapses.
func (s *Server) WaitCalls(n int, timeout time.Duration) []ServiceCall {
	deadline := time.After(timeout)

	for {
		calls := s.Calls()
		if len(calls) >= n {
			return calls
		}

		select {
		case <-s.notify:
		case <-deadline:
			return calls
		}
	}
}

// ChangeState updates the stored state and emits a state_changed event to subscribers.
func (s *Server) ChangeState(newState State) {
	s.mu.Lock()
	old, hadOld := s.states[newState.EntityID]
	s.states[newState.EntityID] = newState
	s.mu.Unlock()

	data := map[string]any{
		"entity_id": newState.EntityID,
		"new_state": newState,
		"old_state": nil,
	}
	if hadOld {
		data["old_state"] = old
	}

	s.Emit("state_changed", data)
}

// Emit sends an event of eventType to every subscribed connection.
func (s *Server) Emit(eventType string, data any) {
	payload, _ := json.Marshal(data)

	s.mu.Lock()
	targets := make(map[*websocket.Conn]*session, len(s.conns))
	for conn, sess := range s.conns {
		targets[conn] = sess
	}
	s.mu.Unlock()

	for conn, sess := range targets {
		sess.writeMu.Lock()
		ids := append([]int64(nil), sess.subscriptions[eventType]...)
		for _, id := range ids {
			_ = conn.WriteJSON(map[string]any{
				"id":   id,
				"type": "event",
				"event": map[string]any{
					"event_type": eventType,
					"data":       json.RawMessage(payload),
					"time_fired": time.Now().UTC().Format(time.RFC3339Nano),
				},
			})
		}
		sess.writeMu.Unlock()
	}
}

// Subscribed reports whether some connection subscribed to eventType.
func (s *Server) Subscribed(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.conns {
		sess.writeMu.Lock()
		n := len(sess.subscriptions[eventType])
		sess.writeMu.Unlock()

		if n > 0 {
			return true
		}
	}

	return false
}

// incoming is a command frame sent by the client.
type incoming struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	AccessToken string         `json:"access_token"`
	EventType   string         `json:"event_type"`
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data"`
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	defer func() {
		_ = conn.Close()
	}()

	if !s.handshake(conn) {
		return
	}

	sess := &session{subscriptions: make(map[string][]int64)}

	s.mu.Lock()
	s.conns[conn] = sess
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	for {
		var cmd incoming
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}

		s.handle(conn, sess, &cmd)
	}
}

func (s *Server) handshake(conn *websocket.Conn) bool {
	if err := conn.WriteJSON(map[string]any{"type": "auth_required", "ha_version": "2026.10.0"}); err != nil {
		return false
	}

	var auth incoming
	if err := conn.ReadJSON(&auth); err != nil {
		return false
	}

	if auth.Type != "auth" || auth.AccessToken != s.Token {
		_ = conn.WriteJSON(map[string]any{"type": "auth_invalid", "message": "Invalid access token or password"})

		return false
	}

	return conn.WriteJSON(map[string]any{"type": "auth_ok", "ha_version": "2026.10.0"}) == nil
}

func (s *Server) handle(conn *websocket.Conn, sess *session, cmd *incoming) {
	reply := map[string]any{"id": cmd.ID, "type": "result", "success": true, "result": nil}

	switch cmd.Type {
	case "ping":
		reply = map[string]any{"id": cmd.ID, "type": "pong"}
	case "subscribe_events":
		sess.writeMu.Lock()
		sess.subscriptions[cmd.EventType] = append(sess.subscriptions[cmd.EventType], cmd.ID)
		sess.writeMu.Unlock()
	case "get_states":
		reply["result"] = s.snapshotStates()
	case "get_services":
		reply["result"] = s.snapshotServices()
	case "call_service":
		if s.recordCall(cmd) {
			reply["success"] = false
			reply["error"] = map[string]any{"code": "home_assistant_error", "message": "device offline"}
		}
	default:
		reply["success"] = false
		reply["error"] = map[string]any{"code": "unknown_command", "message": "Unknown command."}
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	_ = conn.WriteJSON(reply)
}

func (s *Server) snapshotStates() []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]State, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}

	return states
}

func (s *Server) snapshotServices() map[string]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getServices++

	result := make(map[string]map[string]any, len(s.services))
	for domain, services := range s.services {
		entries := make(map[string]any, len(services))
		for _, service := range services {
			entries[service] = map[string]any{"name": service, "fields": map[string]any{}}
		}

		result[domain] = entries
	}

	return result
}

// recordCall stores the call and reports whether it must fail.
func (s *Server) recordCall(cmd *incoming) bool {
	s.mu.Lock()
	s.calls = append(s.calls, ServiceCall{Domain: cmd.Domain, Service: cmd.Service, Data: cmd.ServiceData})
	failing := s.failing[cmd.Domain+"."+cmd.Service]
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}

	return failing
}
