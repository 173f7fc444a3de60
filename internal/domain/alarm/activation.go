package alarm

import "time"

// DropReason explains why a sensor change did not become an activation.
type DropReason string

// Reasons a sensor state change is dropped at ingestion.
const (
	DropNone            DropReason = ""
	DropMissingState    DropReason = "missing_state"
	DropNonEvent        DropReason = "non_event"
	DropIgnoredCategory DropReason = "ignored_category"
	DropRepeat          DropReason = "repeat"
	DropInactive        DropReason = "inactive"
)

// relevantCategories are device classes that can plausibly trip an alarm.
//
//nolint:gochecknoglobals // Read-only lookup table.
var relevantCategories = map[string]struct{}{
	"door":        {},
	"window":      {},
	"opening":     {},
	"garage_door": {},
	"motion":      {},
	"occupancy":   {},
	"presence":    {},
	"lock":        {},
}

// ActivationRecord is one relevant sensor transitioning into an active state.
// Records are immutable once created.
type ActivationRecord struct {
	// Timestamp is when the activation was observed.
	Timestamp time.Time
	// EntityID identifies the originating sensor.
	EntityID string
	// DisplayName is the sensor's friendly name or its entity id.
	DisplayName string
	// Category is the sensor's device class.
	Category string
	// State is the normalized active state the sensor switched to.
	State string
}

// IsRelevantCategory reports whether sensors of the given device class are tracked.
func IsRelevantCategory(category string) bool {
	_, ok := relevantCategories[category]

	return ok
}

// NewActivation applies the ingestion filter to a sensor state change.
// It returns a record stamped with at only for a true transition of a
// relevant sensor into an active state; otherwise it reports why the
// change was dropped.
func NewActivation(change *StateChange, at time.Time) (ActivationRecord, DropReason) {
	if change == nil || change.EntityID == "" || change.NewState == nil {
		return ActivationRecord{}, DropMissingState
	}

	newState := Normalize(change.NewState.State)
	if IsNonEvent(newState) {
		return ActivationRecord{}, DropNonEvent
	}

	category := change.NewState.Attribute(AttributeDeviceClass)
	if !IsRelevantCategory(category) {
		return ActivationRecord{}, DropIgnoredCategory
	}

	if change.OldState != nil && Normalize(change.OldState.State) == newState {
		return ActivationRecord{}, DropRepeat
	}

	if !IsActive(newState) {
		return ActivationRecord{}, DropInactive
	}

	name := change.NewState.FriendlyName()
	if name == "" {
		name = change.EntityID
	}

	record := ActivationRecord{
		Timestamp:   at,
		EntityID:    change.EntityID,
		DisplayName: name,
		Category:    category,
		State:       newState,
	}

	return record, DropNone
}
