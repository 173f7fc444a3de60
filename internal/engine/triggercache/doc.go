// Package triggercache keeps a bounded, insertion-ordered history of recent
// sensor activations and answers time-window queries over it.
package triggercache
