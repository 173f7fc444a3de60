package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/engine/triggercache"
)

//nolint:gochecknoglobals // Test fixture.
var t0 = time.Date(2026, 10, 18, 21, 0, 0, 0, time.UTC)

func activation(name string, at time.Duration) domain.ActivationRecord {
	return domain.ActivationRecord{
		Timestamp:   t0.Add(at),
		EntityID:    "binary_sensor." + name,
		DisplayName: name,
		Category:    "door",
		State:       "on",
	}
}

func triggered(at time.Duration, attributes map[string]any) *domain.Observation {
	return &domain.Observation{
		State:      domain.StateTriggered,
		Attributes: attributes,
		Timestamp:  t0.Add(at),
	}
}

// TestResolve_MostRecentWithinWindow is scenario A: the later of two activations wins.
func TestResolve_MostRecentWithinWindow(t *testing.T) {
	t.Parallel()

	cache := triggercache.New(10)
	cache.Append(activation("Front Door", 0))
	cache.Append(activation("Back Window", 5*time.Second))

	result, ok := Resolve(triggered(8*time.Second, nil), cache, 10*time.Second)
	require.True(t, ok)
	require.Equal(t, "Back Window", result.Source())
	require.Equal(t, TierSensor, result.Tier)
	require.Empty(t, result.Fallback)
	require.NotNil(t, result.Activation)
}

// TestResolve_AlarmSourceFallback is scenario B.
func TestResolve_AlarmSourceFallback(t *testing.T) {
	t.Parallel()

	result, ok := Resolve(triggered(0, map[string]any{"source": "Garage"}), triggercache.New(10), 10*time.Second)
	require.True(t, ok)
	require.Equal(t, "Garage", result.Source())
	require.Equal(t, TierAlarmSource, result.Tier)
	require.Nil(t, result.Activation)
}

// TestResolve_DefaultFallback is scenario C.
func TestResolve_DefaultFallback(t *testing.T) {
	t.Parallel()

	result, ok := Resolve(triggered(0, map[string]any{}), triggercache.New(10), 10*time.Second)
	require.True(t, ok)
	require.Equal(t, DefaultSource, result.Source())
	require.Equal(t, TierDefault, result.Tier)

	// An empty source attribute does not count.
	result, ok = Resolve(triggered(0, map[string]any{"source": ""}), triggercache.New(10), 10*time.Second)
	require.True(t, ok)
	require.Equal(t, DefaultSource, result.Source())
}

// TestResolve_ActivationTooOld is scenario D: an activation outside the window falls through.
func TestResolve_ActivationTooOld(t *testing.T) {
	t.Parallel()

	cache := triggercache.New(10)
	cache.Append(activation("Front Door", 0))

	result, ok := Resolve(triggered(20*time.Second, nil), cache, 10*time.Second)
	require.True(t, ok)
	require.Nil(t, result.Activation)
	require.Equal(t, DefaultSource, result.Source())

	result, ok = Resolve(triggered(20*time.Second, map[string]any{"source": "Keypad"}), cache, 10*time.Second)
	require.True(t, ok)
	require.Equal(t, "Keypad", result.Source())
}

// TestResolve_SensorBeatsAlarmSource checks the precedence order.
func TestResolve_SensorBeatsAlarmSource(t *testing.T) {
	t.Parallel()

	cache := triggercache.New(10)
	cache.Append(activation("Hall Motion", 0))

	result, ok := Resolve(triggered(time.Second, map[string]any{"source": "Garage"}), cache, time.Minute)
	require.True(t, ok)
	require.Equal(t, "Hall Motion", result.Source())
}

// TestResolve_NotTriggered skips attribution for other states.
func TestResolve_NotTriggered(t *testing.T) {
	t.Parallel()

	cache := triggercache.New(10)
	cache.Append(activation("Front Door", 0))

	for _, state := range []string{"armed_away", "disarmed", "pending", "arming"} {
		observation := &domain.Observation{State: state, Timestamp: t0}

		_, ok := Resolve(observation, cache, time.Minute)
		require.False(t, ok, state)
	}

	_, ok := Resolve(nil, cache, time.Minute)
	require.False(t, ok)
}
