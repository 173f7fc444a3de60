package alarm

import (
	"fmt"
	"strings"
)

// nonEventStates are normalized values that carry no information about the entity.
//
//nolint:gochecknoglobals // Read-only lookup tables.
var nonEventStates = map[string]struct{}{
	"unknown":     {},
	"unavailable": {},
	"none":        {},
}

// activeStates are normalized values meaning a sensor has become active.
//
//nolint:gochecknoglobals // Read-only lookup tables.
var activeStates = map[string]struct{}{
	"on":     {},
	"open":   {},
	"opened": {},
	"true":   {},
}

// Normalize converts a raw state payload into canonical text.
// Booleans map to "true"/"false", nil maps to "none", everything else is lower-cased.
// Normalize(Normalize(x)) == Normalize(x) for every x.
func Normalize(raw any) string {
	switch value := raw.(type) {
	case nil:
		return "none"
	case bool:
		if value {
			return "true"
		}

		return "false"
	case string:
		return strings.ToLower(value)
	default:
		return strings.ToLower(fmt.Sprint(value))
	}
}

// IsNonEvent reports whether a normalized state must be ignored downstream.
func IsNonEvent(state string) bool {
	_, ok := nonEventStates[state]

	return ok
}

// IsActive reports whether a normalized state belongs to the active vocabulary.
func IsActive(state string) bool {
	_, ok := activeStates[state]

	return ok
}
