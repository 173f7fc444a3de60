package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alarm_relay"

// Remote action outcomes.
const (
	ResultCalled  = "called"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Metrics holds the relay's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// SensorEvents counts sensor state changes by ingestion outcome.
	SensorEvents *prometheus.CounterVec
	// AlarmStates counts observed alarm states.
	AlarmStates *prometheus.CounterVec
	// Attributions counts resolved triggers by fallback tier.
	Attributions *prometheus.CounterVec
	// RemoteActions counts remote action attempts by action and result.
	RemoteActions *prometheus.CounterVec
	// DroppedTasks counts background tasks rejected by a full queue.
	DroppedTasks prometheus.Counter
	// Connected is 1 while the Home Assistant connection is up.
	Connected prometheus.Gauge
}

// New registers the relay collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SensorEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_events_total",
			Help:      "Sensor state changes by ingestion outcome (cached or drop reason).",
		}, []string{"outcome"}),
		AlarmStates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_states_total",
			Help:      "Observed alarm state changes by normalized state.",
		}, []string{"state"}),
		Attributions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attributions_total",
			Help:      "Alarm triggers attributed, by fallback tier.",
		}, []string{"tier"}),
		RemoteActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_actions_total",
			Help:      "Remote action attempts by action and result.",
		}, []string{"action", "result"}),
		DroppedTasks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_tasks_total",
			Help:      "Background tasks dropped because the queue was full.",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "home_assistant_connected",
			Help:      "Whether the Home Assistant WebSocket connection is up.",
		}),
	}
}

// RegisterCacheSize exports the trigger cache size through a gauge function.
func RegisterCacheSize(reg prometheus.Registerer, size func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "trigger_cache_size",
		Help:      "Activations currently held in the trigger cache.",
	}, func() float64 {
		return float64(size())
	})
}

// RecordSensorEvent counts a sensor change outcome.
func (m *Metrics) RecordSensorEvent(outcome string) {
	if m == nil {
		return
	}

	m.SensorEvents.WithLabelValues(outcome).Inc()
}

// RecordAlarmState counts an alarm state change.
func (m *Metrics) RecordAlarmState(state string) {
	if m == nil {
		return
	}

	m.AlarmStates.WithLabelValues(state).Inc()
}

// RecordAttribution counts a resolved trigger.
func (m *Metrics) RecordAttribution(tier string) {
	if m == nil {
		return
	}

	m.Attributions.WithLabelValues(tier).Inc()
}

// RecordRemoteAction counts a remote action attempt.
func (m *Metrics) RecordRemoteAction(action, result string) {
	if m == nil {
		return
	}

	m.RemoteActions.WithLabelValues(action, result).Inc()
}

// RecordDroppedTask counts a task rejected by the executor.
func (m *Metrics) RecordDroppedTask() {
	if m == nil {
		return
	}

	m.DroppedTasks.Inc()
}

// SetConnected flips the connection gauge.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}

	if connected {
		m.Connected.Set(1)

		return
	}

	m.Connected.Set(0)
}
