// Package dispatcher pushes alarm state, attributed source and panel name to
// ESPHome display devices through the host's service registry.
//
// Every remote action is looked up before it is called. Devices lacking an
// action are skipped silently, and call failures are logged but never returned.
package dispatcher
