// Package integration holds end-to-end tests that run the relay against an
// in-process Home Assistant fake and query it through the status API.
package integration
