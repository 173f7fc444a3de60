// Package state persists the last alarm attribution.
//
// The FileRepository stores and loads it as JSON on disk so the status API
// still knows the last trigger source after a restart.
package state
