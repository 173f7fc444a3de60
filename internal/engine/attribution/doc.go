// Package attribution picks the most plausible cause of an alarm trigger.
//
// The most recent cached activation inside the lookback window wins. Without
// one, the alarm's own source attribute is used, and the literal "Alarm" is
// the final fallback.
package attribution
