package homeassistant

import (
	"encoding/json"
	"time"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// Message types of the Home Assistant WebSocket protocol.
const (
	typeAuthRequired    = "auth_required"
	typeAuth            = "auth"
	typeAuthOK          = "auth_ok"
	typeAuthInvalid     = "auth_invalid"
	typeResult          = "result"
	typeEvent           = "event"
	typePing            = "ping"
	typePong            = "pong"
	typeSubscribeEvents = "subscribe_events"
	typeGetStates       = "get_states"
	typeGetServices     = "get_services"
	typeCallService     = "call_service"
)

// Event types consumed by the client.
const (
	EventStateChanged      = "state_changed"
	EventServiceRegistered = "service_registered"
	EventServiceRemoved    = "service_removed"
)

// message is the envelope of every frame received from the server.
type message struct {
	ID        int64           `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *apiError       `json:"error,omitempty"`
	Event     *Event          `json:"event,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// apiError is the error object of a failed result.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is a bus event delivered to a subscription.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired string          `json:"time_fired,omitempty"`
}

// authMessage authenticates the connection.
type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// command is an outgoing request carrying an id.
type command struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	EventType   string         `json:"event_type,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	Service     string         `json:"service,omitempty"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

// stateObject is an entity state as serialized by Home Assistant.
type stateObject struct {
	EntityID    string         `json:"entity_id"`
	State       any            `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
}

// stateChangedData is the payload of a state_changed event.
type stateChangedData struct {
	EntityID string       `json:"entity_id"`
	OldState *stateObject `json:"old_state"`
	NewState *stateObject `json:"new_state"`
}

// toDomain converts a serialized state into the domain representation.
func (s *stateObject) toDomain() *domain.EntityState {
	if s == nil {
		return nil
	}

	var lastChanged time.Time
	if s.LastChanged != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, s.LastChanged); err == nil {
			lastChanged = parsed
		}
	}

	return &domain.EntityState{
		EntityID:    s.EntityID,
		State:       s.State,
		Attributes:  s.Attributes,
		LastChanged: lastChanged,
	}
}

// toDomain converts the event payload into a domain StateChange.
func (d *stateChangedData) toDomain() *domain.StateChange {
	return &domain.StateChange{
		EntityID: d.EntityID,
		OldState: d.OldState.toDomain(),
		NewState: d.NewState.toDomain(),
	}
}
