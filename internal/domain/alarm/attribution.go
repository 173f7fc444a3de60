package alarm

import "time"

// Attribution is the last attributed alarm trigger, kept for status reporting.
type Attribution struct {
	// Source is the text pushed to display devices.
	Source string
	// EntityID is the matched sensor, empty when a fallback was used.
	EntityID string
	// Category is the matched sensor's device class, empty for fallbacks.
	Category string
	// Tier names the fallback level that produced Source.
	Tier string
	// AlarmState is the normalized alarm state at attribution time.
	AlarmState string
	// Timestamp is when the attribution was made.
	Timestamp time.Time
}

// Clone returns a copy of the attribution, nil-safe.
func (a *Attribution) Clone() *Attribution {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}
