package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/homeassistant"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/metrics"
)

const (
	// initialReconnectDelay is the first wait after a lost connection.
	initialReconnectDelay = time.Second
	// maxReconnectDelay caps the exponential reconnect backoff.
	maxReconnectDelay = time.Minute
)

// errNotConnected is returned for calls made while Home Assistant is unreachable.
var errNotConnected = errors.New("not connected to home assistant")

// liveRegistry forwards lookups and calls to the current connection.
// Between connections every service is reported as unregistered.
type liveRegistry struct {
	client atomic.Pointer[homeassistant.Client]
}

func (r *liveRegistry) set(client *homeassistant.Client) {
	r.client.Store(client)
}

// HasService implements dispatcher.ActionRegistry.
func (r *liveRegistry) HasService(ctx context.Context, serviceDomain, service string) bool {
	client := r.client.Load()
	if client == nil {
		return false
	}

	return client.HasService(ctx, serviceDomain, service)
}

// CallService implements dispatcher.ActionRegistry.
func (r *liveRegistry) CallService(ctx context.Context, serviceDomain, service string, data map[string]any) error {
	client := r.client.Load()
	if client == nil {
		return errNotConnected
	}

	return client.CallService(ctx, serviceDomain, service, data)
}

// FriendlyName implements dispatcher.NameLookup.
func (r *liveRegistry) FriendlyName(entityID string) (string, bool) {
	client := r.client.Load()
	if client == nil {
		return "", false
	}

	return client.FriendlyName(entityID)
}

// State implements StateLookup.
func (r *liveRegistry) State(entityID string) (*domain.EntityState, bool) {
	client := r.client.Load()
	if client == nil {
		return nil, false
	}

	return client.State(entityID)
}

// dialer opens a Home Assistant connection.
type dialer func(ctx context.Context) (*homeassistant.Client, error)

// connectionLoop keeps a Home Assistant connection open until ctx is canceled.
type connectionLoop struct {
	dial     dialer
	engine   *Engine
	registry *liveRegistry
	metrics  *metrics.Metrics
	// initialDelay and maxDelay bound the reconnect backoff.
	initialDelay time.Duration
	maxDelay     time.Duration
}

// run connects, pushes the initial alarm state and reconnects with
// exponential backoff whenever the connection drops. Failures of the first
// connection and rejected tokens are returned; later failures are retried.
func (l *connectionLoop) run(ctx context.Context) error {
	delay := l.initialDelay
	first := true

	for {
		client, err := l.dial(ctx)

		switch {
		case err == nil:
			delay = l.initialDelay

			if err = l.serve(ctx, client, first); err != nil {
				return err
			}

			if ctx.Err() != nil {
				return nil
			}

			first = false
		case ctx.Err() != nil:
			return nil
		case first, errors.Is(err, homeassistant.ErrAuthInvalid):
			return fmt.Errorf("connect to home assistant: %w", err)
		default:
			logger.WarnKV(ctx, "Connection failed, retrying", "error", err, "retry_in", delay.String())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay = min(delay*2, l.maxDelay)
	}
}

// serve publishes client and blocks until the connection ends or ctx is canceled.
func (l *connectionLoop) serve(ctx context.Context, client *homeassistant.Client, first bool) error {
	l.registry.set(client)
	l.metrics.SetConnected(true)

	defer func() {
		l.registry.set(nil)
		l.metrics.SetConnected(false)

		_ = client.Close()
	}()

	logger.InfoKV(ctx, "Connected to Home Assistant", "version", client.Version())

	if err := l.engine.PushInitialState(ctx, l.registry); err != nil {
		if first {
			return err
		}

		logger.WarnKV(ctx, "Initial state not pushed", "error", err)
	}

	select {
	case <-ctx.Done():
	case <-client.Done():
	}

	return nil
}
