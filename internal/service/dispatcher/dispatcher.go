package dispatcher

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/time/rate"

	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/metrics"
)

// ServiceDomain is the registry namespace holding ESPHome device actions.
const ServiceDomain = "esphome"

// Remote actions exposed by alarm display firmware.
const (
	ActionSetState     = "set_alarm_state"
	ActionSetSource    = "set_alarm_source"
	ActionSetPanelName = "set_alarm_panel_name"
)

// Payload keys of the remote actions.
const (
	fieldState  = "state"
	fieldSource = "source"
	fieldName   = "name"
)

// ActionRegistry looks up and invokes named remote actions.
type ActionRegistry interface {
	// HasService reports whether domain.service is currently registered.
	HasService(ctx context.Context, domain, service string) bool
	// CallService invokes domain.service without waiting for it to finish.
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// NameLookup resolves an entity's current friendly name.
type NameLookup interface {
	FriendlyName(entityID string) (string, bool)
}

// Update carries the values for one push cycle. Nil fields are not pushed.
type Update struct {
	State  *string
	Source *string
}

// StateUpdate returns an Update pushing only the alarm state.
func StateUpdate(state string) Update {
	return Update{State: &state}
}

// SourceUpdate returns an Update pushing only the attributed source.
func SourceUpdate(source string) Update {
	return Update{Source: &source}
}

// Options configures a Dispatcher.
type Options struct {
	// Devices are the target device identifiers, e.g. "esphome.panel_hall".
	Devices []string
	// AlarmEntity is the entity whose friendly name is pushed as the panel name.
	AlarmEntity string
	// CallRate limits remote actions per second, zero disables the limit.
	CallRate float64
	// CallBurst is the limiter burst size.
	CallBurst int
}

// Dispatcher pushes updates to every configured device.
type Dispatcher struct {
	// registry resolves and invokes remote actions.
	registry ActionRegistry
	// names resolves the alarm's friendly name.
	names NameLookup
	// slugs are the device slugs derived once from the configured devices.
	slugs []string
	// alarmEntity is the alarm entity id used for panel name lookups.
	alarmEntity string
	// limiter paces outbound calls, nil when unlimited.
	limiter *rate.Limiter
	// metrics records action outcomes.
	metrics *metrics.Metrics
}

// New creates a Dispatcher. m may be nil.
func New(registry ActionRegistry, names NameLookup, opts Options, m *metrics.Metrics) *Dispatcher {
	slugs := make([]string, 0, len(opts.Devices))
	for _, device := range opts.Devices {
		if slug := DeviceSlug(device); slug != "" {
			slugs = append(slugs, slug)
		}
	}

	var limiter *rate.Limiter
	if opts.CallRate > 0 {
		burst := max(opts.CallBurst, 1)
		limiter = rate.NewLimiter(rate.Limit(opts.CallRate), burst)
	}

	return &Dispatcher{
		registry:    registry,
		names:       names,
		slugs:       slugs,
		alarmEntity: opts.AlarmEntity,
		limiter:     limiter,
		metrics:     m,
	}
}

// DeviceSlug strips the namespace prefix from a device identifier:
// "esphome.vibealarm_wohnzimmer" -> "vibealarm_wohnzimmer".
func DeviceSlug(device string) string {
	if _, object, found := strings.Cut(device, "."); found {
		device = object
	}

	return strings.TrimSpace(device)
}

// ServiceName builds the remote action name for a device slug.
func ServiceName(slug, action string) string {
	return slug + "_" + action
}

// Push sends the update to every device. It returns once all calls are issued.
func (d *Dispatcher) Push(ctx context.Context, update Update) {
	panelName, hasPanelName := d.panelName()

	for _, slug := range d.slugs {
		deviceCtx := logger.WithKV(ctx, "device", slug)

		if update.State != nil {
			d.call(deviceCtx, slug, ActionSetState, map[string]any{fieldState: *update.State})
		}

		if update.Source != nil {
			d.call(deviceCtx, slug, ActionSetSource, map[string]any{fieldSource: *update.Source})
		}

		if hasPanelName {
			d.call(deviceCtx, slug, ActionSetPanelName, map[string]any{fieldName: panelName})
		}
	}
}

// panelName looks up the alarm's friendly name for this push cycle.
func (d *Dispatcher) panelName() (string, bool) {
	if d.names == nil || d.alarmEntity == "" {
		return "", false
	}

	name, ok := d.names.FriendlyName(d.alarmEntity)
	if !ok || name == "" {
		return "", false
	}

	return name, true
}

// call resolves the registered variant of an action and fires it.
func (d *Dispatcher) call(ctx context.Context, slug, action string, data map[string]any) {
	service, ok := d.resolve(ctx, ServiceName(slug, action))
	if !ok {
		d.metrics.RecordRemoteAction(action, metrics.ResultSkipped)
		logger.DebugKV(ctx, "Remote action not registered, skipping", "action", action)

		return
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.metrics.RecordRemoteAction(action, metrics.ResultFailed)
			logger.DebugKV(ctx, "Remote action not sent", "service", service, "error", err)

			return
		}
	}

	if err := d.registry.CallService(ctx, ServiceDomain, service, data); err != nil {
		d.metrics.RecordRemoteAction(action, metrics.ResultFailed)
		logger.DebugKV(ctx, "Remote action failed", "service", service, "error", err)

		return
	}

	d.metrics.RecordRemoteAction(action, metrics.ResultCalled)
	logger.DebugKV(ctx, "Remote action sent", "service", service, "data", data)
}

// resolve returns the first registered spelling of a service name.
// Device names may use either dashes or underscores.
func (d *Dispatcher) resolve(ctx context.Context, base string) (string, bool) {
	for _, candidate := range nameVariants(base) {
		if d.registry.HasService(ctx, ServiceDomain, candidate) {
			return candidate, true
		}
	}

	return "", false
}

// nameVariants lists the distinct spellings tried for a service name, in order.
func nameVariants(base string) []string {
	variants := make([]string, 0, 3)

	for _, candidate := range []string{
		base,
		strings.ReplaceAll(base, "-", "_"),
		strings.ReplaceAll(base, "_", "-"),
	} {
		if !slices.Contains(variants, candidate) {
			variants = append(variants, candidate)
		}
	}

	return variants
}
