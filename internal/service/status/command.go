package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/service/common"
)

// Options controls the status command.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Address overrides the status API address from the config.
	Address string
	// Window limits listed activations by age, zero lists the whole cache.
	Window time.Duration
	// Watch keeps polling until the context is canceled.
	Watch bool
	// PollInterval defines the interval between polls in watch mode.
	PollInterval time.Duration
	// Timeout specifies the per-RPC timeout duration.
	Timeout time.Duration
}

// DefaultPollInterval defines the polling interval in watch mode.
const DefaultPollInterval = 5 * time.Second

// errNoStatusAddress indicates that neither flags nor config name the status API.
var errNoStatusAddress = errors.New("no status api address configured")

// Run queries the relay once, or repeatedly in watch mode.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarm-status")

	address, timeout, err := resolveTarget(opts)
	if err != nil {
		return err
	}

	// Detect current system actor for audit logging on the relay side.
	actor, err := common.DetectActor()
	if err != nil {
		return fmt.Errorf("detect actor: %w", err)
	}

	client, err := common.Dial(ctx, address, common.WithCallTimeout(timeout), common.WithActor(actor))
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	// Ensure connection cleanup on function exit.
	defer func() {
		_ = client.Close()
	}()

	if !opts.Watch {
		return report(ctx, client, opts.Window)
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	logger.InfoKV(ctx, "Watching relay status", "address", address, "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err = report(ctx, client, opts.Window); err != nil {
			logger.ErrorKV(ctx, "Status request failed", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
		}
	}
}

// resolveTarget returns the status API address and RPC timeout.
// An explicit address skips loading the config.
func resolveTarget(opts *Options) (string, time.Duration, error) {
	timeout := opts.Timeout

	if opts.Address != "" {
		return dialAddress(opts.Address), timeout, nil
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return "", 0, fmt.Errorf("load configuration: %w", err)
	}

	if cfg.ListenAddress == "" {
		return "", 0, errNoStatusAddress
	}

	if timeout <= 0 {
		timeout = cfg.Timeout
	}

	return dialAddress(cfg.ListenAddress), timeout, nil
}

// dialAddress turns a listen address into a dialable one: ":50051" -> "localhost:50051".
func dialAddress(address string) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil || (host != "" && host != "0.0.0.0" && host != "::") {
		return address
	}

	return net.JoinHostPort("localhost", port)
}

// report logs the last attribution and recent activations.
func report(ctx context.Context, client *common.Client, window time.Duration) error {
	last, err := client.GetLastAttribution(ctx)
	if err != nil {
		return err
	}

	if last == nil {
		logger.Info(ctx, "No alarm trigger attributed yet")
	} else {
		logger.InfoKV(ctx, "Last alarm trigger",
			"source", last.Source,
			"tier", last.Tier,
			"entity_id", last.EntityID,
			"at", last.Timestamp.Format(time.RFC3339))
	}

	activations, err := client.ListRecentActivations(ctx, window)
	if err != nil {
		return err
	}

	logger.Infof(ctx, "Recent activations: %d of %d cached", len(activations.Records), activations.CacheSize)

	for _, record := range activations.Records {
		logger.InfoKV(ctx, "Activation",
			"name", record.DisplayName,
			"entity_id", record.EntityID,
			"category", record.Category,
			"state", record.State,
			"at", record.Timestamp.Format(time.RFC3339))
	}

	return nil
}
