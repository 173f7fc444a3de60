// Package alarm contains core domain types for trigger attribution.
//
// It defines the entity state snapshots delivered by the host event bus,
// the canonical normalization of raw state values, and the ingestion filter
// that turns a sensor state change into an ActivationRecord.
package alarm
