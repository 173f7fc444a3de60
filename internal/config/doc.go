// Package config defines the relay settings and provides helpers to load,
// validate and save them in YAML format.
//
// Validate fills defaults for every optional field, so callers can rely on
// a fully populated Config after Load.
package config
