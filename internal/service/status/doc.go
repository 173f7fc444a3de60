// Package status implements the alarm-status command: it queries the relay's
// status API and logs the last attribution and the recent activations, once
// or at a fixed interval.
package status
