package attribution

import (
	"iter"
	"time"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// DefaultSource is reported when neither a sensor nor the alarm names a cause.
const DefaultSource = "Alarm"

// Tier names which fallback level produced a Result.
type Tier string

// Attribution tiers in order of precedence.
const (
	TierSensor      Tier = "sensor"
	TierAlarmSource Tier = "alarm_source"
	TierDefault     Tier = "default"
)

// History is the read side of the trigger cache.
type History interface {
	Since(now time.Time, window time.Duration) iter.Seq[domain.ActivationRecord]
}

// Result is the outcome of attribution: either a matched activation or a fallback text.
type Result struct {
	// Activation is the matched sensor activation, nil when a fallback was used.
	Activation *domain.ActivationRecord
	// Fallback is the alarm-supplied or default source, empty when Activation is set.
	Fallback string
	// Tier is the fallback level that produced the result.
	Tier Tier
}

// Source returns the text pushed to display devices.
func (r *Result) Source() string {
	if r.Activation != nil {
		return r.Activation.DisplayName
	}

	return r.Fallback
}

// Resolve attributes a triggered alarm observation to its most likely source.
// The second return value is false when the alarm is not triggered.
func Resolve(observation *domain.Observation, history History, lookback time.Duration) (Result, bool) {
	if observation == nil || !observation.IsTriggered() {
		return Result{}, false
	}

	if record, ok := newest(history.Since(observation.Timestamp, lookback)); ok {
		return Result{Activation: &record, Tier: TierSensor}, true
	}

	if source, ok := observation.SourceHint(); ok {
		return Result{Fallback: source, Tier: TierAlarmSource}, true
	}

	return Result{Fallback: DefaultSource, Tier: TierDefault}, true
}

// newest returns the first element of a newest-first sequence.
func newest(records iter.Seq[domain.ActivationRecord]) (domain.ActivationRecord, bool) {
	next, stop := iter.Pull(records)
	defer stop()

	return next()
}
