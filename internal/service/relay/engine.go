package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/engine/attribution"
	"github.com/oshokin/alarm-relay/internal/engine/triggercache"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/metrics"
	repo "github.com/oshokin/alarm-relay/internal/repository/state"
	"github.com/oshokin/alarm-relay/internal/service/dispatcher"
)

// sensorOutcomeCached labels sensor changes that became activations.
const sensorOutcomeCached = "cached"

// ErrAlarmEntityNotFound is returned when the host does not know the alarm entity.
var ErrAlarmEntityNotFound = errors.New("alarm entity not found")

// Pusher delivers updates to the display devices.
type Pusher interface {
	Push(ctx context.Context, update dispatcher.Update)
}

// StateLookup returns the current state of an entity.
type StateLookup interface {
	State(entityID string) (*domain.EntityState, bool)
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// AlarmEntity is the watched alarm entity id.
	AlarmEntity string
	// SensorDomains are the entity domains feeding the trigger cache.
	SensorDomains []string
	// Lookback is how old an activation may be to still explain a trigger.
	Lookback time.Duration
	// CacheCapacity bounds the trigger cache.
	CacheCapacity int
	// QueueSize bounds pending background tasks.
	QueueSize int
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

// Engine connects state change events to the trigger cache, the attribution
// resolver and the dispatcher.
type Engine struct {
	// alarmEntity is the watched alarm entity id.
	alarmEntity string
	// sensorDomains are the tracked sensor entity domains.
	sensorDomains []string
	// lookback is the attribution window.
	lookback time.Duration
	// now is the clock used to stamp activations and observations.
	now func() time.Time

	// cache holds recent activations.
	cache *triggercache.Cache
	// pusher delivers updates to display devices.
	pusher Pusher
	// executor runs alarm handling off the event dispatch goroutine.
	executor *executor
	// repo persists the last attribution, may be nil.
	repo repo.Repository
	// metrics records engine events, may be nil.
	metrics *metrics.Metrics

	// logCtx carries the logger used by event handlers.
	logCtx context.Context //nolint:containedctx // Handlers are invoked without a context.

	// mu guards last.
	mu sync.RWMutex
	// last is the most recent attribution.
	last *domain.Attribution
}

// NewEngine creates an Engine and restores the last attribution from repository.
func NewEngine(
	ctx context.Context,
	opts EngineOptions,
	pusher Pusher,
	repository repo.Repository,
	m *metrics.Metrics,
) (*Engine, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		alarmEntity:   opts.AlarmEntity,
		sensorDomains: slices.Clone(opts.SensorDomains),
		lookback:      opts.Lookback,
		now:           now,
		cache:         triggercache.New(opts.CacheCapacity),
		pusher:        pusher,
		executor:      newExecutor(opts.QueueSize, m),
		repo:          repository,
		metrics:       m,
		logCtx:        logger.WithName(ctx, "engine"),
	}

	if repository == nil {
		return e, nil
	}

	last, err := repository.Load(ctx)
	switch {
	case err == nil:
		e.last = last
	case errors.Is(err, repo.ErrNotFound):
		// Nothing attributed yet.
	default:
		e.executor.Close()

		return nil, fmt.Errorf("load last attribution: %w", err)
	}

	return e, nil
}

// Close waits for queued alarm tasks to finish.
func (e *Engine) Close() {
	e.executor.Close()
}

// CacheSize returns the number of remembered activations.
func (e *Engine) CacheSize() int {
	return e.cache.Len()
}

// HandleStateChange routes a state change to the alarm or sensor handler.
// It runs on the event dispatch goroutine and never blocks on I/O.
func (e *Engine) HandleStateChange(change *domain.StateChange) {
	if change == nil {
		return
	}

	switch {
	case change.EntityID == e.alarmEntity:
		e.HandleAlarmChange(change)
	case slices.Contains(e.sensorDomains, change.Domain()):
		e.HandleSensorChange(change)
	}
}

// HandleSensorChange runs the ingestion filter and remembers the activation.
func (e *Engine) HandleSensorChange(change *domain.StateChange) {
	record, reason := domain.NewActivation(change, e.now())
	if reason != domain.DropNone {
		e.metrics.RecordSensorEvent(string(reason))

		return
	}

	e.cache.Append(record)
	e.metrics.RecordSensorEvent(sensorOutcomeCached)

	logger.DebugKV(e.logCtx, "Activation recorded",
		"entity_id", record.EntityID,
		"category", record.Category,
		"state", record.State)
}

// HandleAlarmChange schedules pushing the new alarm state and, when
// triggered, the attributed source.
func (e *Engine) HandleAlarmChange(change *domain.StateChange) {
	if change.NewState == nil {
		return
	}

	newState := change.NewState
	state := domain.Normalize(newState.State)
	e.metrics.RecordAlarmState(state)

	logger.InfoKV(e.logCtx, "Alarm state changed", "entity_id", change.EntityID, "state", state)

	e.executor.Submit(e.logCtx, "alarm_state", func(ctx context.Context) {
		e.pushAlarmState(ctx, newState)
	})
}

// PushInitialState pushes the alarm entity's current state once.
func (e *Engine) PushInitialState(ctx context.Context, states StateLookup) error {
	current, ok := states.State(e.alarmEntity)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlarmEntityNotFound, e.alarmEntity)
	}

	state := domain.Normalize(current.State)

	e.executor.Submit(ctx, "initial_state", func(ctx context.Context) {
		logger.InfoKV(ctx, "Pushing initial alarm state", "state", state)
		e.pusher.Push(ctx, dispatcher.StateUpdate(state))
	})

	return nil
}

// LastAttribution returns a copy of the most recent attribution, nil if none.
func (e *Engine) LastAttribution(_ context.Context) *domain.Attribution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.last.Clone()
}

// RecentActivations lists remembered activations newest first.
// A window <= 0 returns the whole cache.
func (e *Engine) RecentActivations(_ context.Context, window time.Duration) []domain.ActivationRecord {
	if window <= 0 {
		records := e.cache.Snapshot()
		slices.Reverse(records)

		return records
	}

	return slices.Collect(e.cache.Since(e.now(), window))
}

// pushAlarmState is the background part of HandleAlarmChange.
func (e *Engine) pushAlarmState(ctx context.Context, newState *domain.EntityState) {
	observation := domain.NewObservation(newState, e.now())

	e.pusher.Push(ctx, dispatcher.StateUpdate(observation.State))

	result, ok := attribution.Resolve(&observation, e.cache, e.lookback)
	if !ok {
		return
	}

	source := result.Source()
	e.metrics.RecordAttribution(string(result.Tier))

	logger.InfoKV(ctx, "Alarm trigger attributed", "source", source, "tier", result.Tier)

	e.pusher.Push(ctx, dispatcher.SourceUpdate(source))
	e.remember(ctx, observation, result)
}

// remember stores and persists the attribution. Persistence failures are logged only.
func (e *Engine) remember(ctx context.Context, observation domain.Observation, result attribution.Result) {
	last := &domain.Attribution{
		Source:     result.Source(),
		Tier:       string(result.Tier),
		AlarmState: observation.State,
		Timestamp:  observation.Timestamp,
	}

	if result.Activation != nil {
		last.EntityID = result.Activation.EntityID
		last.Category = result.Activation.Category
	}

	e.mu.Lock()
	e.last = last
	e.mu.Unlock()

	if e.repo == nil {
		return
	}

	if err := e.repo.Save(ctx, last); err != nil {
		logger.ErrorKV(ctx, "Failed to persist last attribution", "error", err)
	}
}
