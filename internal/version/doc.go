// Package version exposes build metadata for the relay binaries.
//
// Version, Commit and BuildTime may be injected via Go ldflags. Values left at
// their defaults are filled from the module's VCS build info when available.
package version
