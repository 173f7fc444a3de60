// Package homeassistant is a small client for the Home Assistant WebSocket API.
//
// It covers the parts the relay needs: authentication, state_changed event
// delivery, a mirror of entity states, the registry of callable services and
// fire-and-forget service calls. Events are dispatched one at a time from the
// read loop, so handlers must not block.
package homeassistant
