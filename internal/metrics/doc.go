// Package metrics defines the Prometheus collectors exported by the relay.
package metrics
