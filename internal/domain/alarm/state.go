package alarm

import (
	"strings"
	"time"
	"unicode"
)

const (
	// AttributeFriendlyName is the attribute holding a human-readable entity label.
	AttributeFriendlyName = "friendly_name"
	// AttributeDeviceClass is the attribute holding the sensor's semantic class.
	AttributeDeviceClass = "device_class"
	// AttributeSource is the attribute an alarm panel may use to report what tripped it.
	AttributeSource = "source"

	// StateTriggered is the normalized alarm state that starts attribution.
	StateTriggered = "triggered"
)

// EntityState is a single observed state of an entity.
type EntityState struct {
	// EntityID is the stable identifier of the entity, e.g. "binary_sensor.front_door".
	EntityID string
	// State is the raw state value as reported by the host.
	State any
	// Attributes holds entity attributes such as device_class and friendly_name.
	Attributes map[string]any
	// LastChanged is when the host saw the state change.
	LastChanged time.Time
}

// Attribute returns the attribute value as a trimmed string, or "" when it is absent or not a string.
func (s *EntityState) Attribute(key string) string {
	if s == nil || s.Attributes == nil {
		return ""
	}

	value, ok := s.Attributes[key].(string)
	if !ok {
		return ""
	}

	return strings.TrimSpace(value)
}

// FriendlyName returns the friendly_name attribute, or "" when it is absent.
func (s *EntityState) FriendlyName() string {
	return s.Attribute(AttributeFriendlyName)
}

// DisplayName returns the friendly name if set, otherwise a name derived
// from the object part of the entity id ("alarm_control_panel.home_alarm" -> "Home Alarm").
func (s *EntityState) DisplayName() string {
	if s == nil {
		return ""
	}

	if name := s.FriendlyName(); name != "" {
		return name
	}

	return nameFromEntityID(s.EntityID)
}

// StateChange is a state_changed notification from the host event bus.
// OldState and NewState are nil when the entity was added or removed.
type StateChange struct {
	EntityID string
	OldState *EntityState
	NewState *EntityState
}

// Domain returns the domain part of the changed entity id.
func (c *StateChange) Domain() string {
	domain, _, found := strings.Cut(c.EntityID, ".")
	if !found {
		return ""
	}

	return domain
}

// Observation is a single observed state of the alarm entity.
type Observation struct {
	// State is the normalized alarm state.
	State string
	// Attributes are the raw alarm attributes and may carry a source hint.
	Attributes map[string]any
	// Timestamp is when the observation was evaluated.
	Timestamp time.Time
}

// NewObservation builds an Observation from the alarm's new state.
func NewObservation(state *EntityState, at time.Time) Observation {
	return Observation{
		State:      Normalize(state.State),
		Attributes: state.Attributes,
		Timestamp:  at,
	}
}

// IsTriggered reports whether the alarm is in the triggered state.
func (o *Observation) IsTriggered() bool {
	return o.State == StateTriggered
}

// SourceHint returns the non-empty source attribute reported by the alarm itself.
func (o *Observation) SourceHint() (string, bool) {
	value, ok := o.Attributes[AttributeSource].(string)
	if !ok {
		return "", false
	}

	value = strings.TrimSpace(value)

	return value, value != ""
}

// nameFromEntityID mirrors the host's fallback naming: the object id with
// underscores replaced by spaces and each word capitalised.
func nameFromEntityID(entityID string) string {
	_, object, found := strings.Cut(entityID, ".")
	if !found {
		object = entityID
	}

	words := strings.Fields(strings.ReplaceAll(object, "_", " "))
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}

	return strings.Join(words, " ")
}
