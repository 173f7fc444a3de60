package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEntityState_DisplayName verifies the friendly name and the derived fallback.
func TestEntityState_DisplayName(t *testing.T) {
	t.Parallel()

	named := &EntityState{
		EntityID:   "alarm_control_panel.home",
		Attributes: map[string]any{AttributeFriendlyName: " Haus Alarm "},
	}
	require.Equal(t, "Haus Alarm", named.DisplayName())

	unnamed := &EntityState{EntityID: "alarm_control_panel.home_alarm"}
	require.Equal(t, "Home Alarm", unnamed.DisplayName())
	require.Empty(t, unnamed.FriendlyName())

	require.Empty(t, (*EntityState)(nil).DisplayName())
}

// TestObservation_SourceHint checks the alarm-supplied source attribute handling.
func TestObservation_SourceHint(t *testing.T) {
	t.Parallel()

	state := &EntityState{
		EntityID:   "alarm_control_panel.home",
		State:      "Triggered",
		Attributes: map[string]any{AttributeSource: "Garage"},
	}

	observation := NewObservation(state, time.Now())
	require.True(t, observation.IsTriggered())

	source, ok := observation.SourceHint()
	require.True(t, ok)
	require.Equal(t, "Garage", source)

	observation.Attributes = map[string]any{AttributeSource: "  "}
	_, ok = observation.SourceHint()
	require.False(t, ok)

	observation.Attributes = nil
	_, ok = observation.SourceHint()
	require.False(t, ok)
}

// TestStateChange_Domain extracts the domain part of the entity id.
func TestStateChange_Domain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "binary_sensor", (&StateChange{EntityID: "binary_sensor.door"}).Domain())
	require.Empty(t, (&StateChange{EntityID: "nodomain"}).Domain())
}
