package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestMetrics_Record checks counters move and a nil receiver is harmless.
func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordSensorEvent("cached")
	m.RecordSensorEvent("cached")
	m.RecordAttribution("sensor")
	m.RecordRemoteAction("set_alarm_state", ResultCalled)
	m.RecordDroppedTask()
	m.SetConnected(true)

	require.InDelta(t, 2, testutil.ToFloat64(m.SensorEvents.WithLabelValues("cached")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.Attributions.WithLabelValues("sensor")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.RemoteActions.WithLabelValues("set_alarm_state", ResultCalled)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.DroppedTasks), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.Connected), 0)

	var nilMetrics *Metrics

	require.NotPanics(t, func() {
		nilMetrics.RecordSensorEvent("cached")
		nilMetrics.RecordAlarmState("triggered")
		nilMetrics.SetConnected(false)
	})
}

// TestRegisterCacheSize exports the provided size.
func TestRegisterCacheSize(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	RegisterCacheSize(reg, func() int { return 7 })

	count, err := testutil.GatherAndCount(reg, "alarm_relay_trigger_cache_size")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
