package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/service/status"
	"github.com/oshokin/alarm-relay/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// window limits listed activations by age.
	window time.Duration
	// watch keeps polling at a fixed interval.
	watch bool
	// interval is the watch mode polling interval.
	interval time.Duration
	// logLevel is the minimum level written to the log.
	logLevel string

	// errUnknownLogLevel is returned for an unsupported --log-level value.
	errUnknownLogLevel = errors.New("unknown log level")

	// rootCmd represents the base command for querying the relay.
	rootCmd = &cobra.Command{
		Use:   "alarm-status [relay-address]",
		Short: "Show the last alarm trigger source and recent sensor activations.",
		Long: `Queries the alarm-relay gRPC status API.

Prints the last attributed alarm trigger (source, fallback tier, sensor and time)
and the sensor activations the relay currently remembers, newest first.
With --window only activations younger than the given duration are listed.
With --watch the query repeats every --interval until interrupted.

The relay address can be provided as argument or loaded from the listen_addr
setting of the relay configuration file.`,
		Args: cobra.MaximumNArgs(1),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			parsed, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("%w: %q", errUnknownLogLevel, logLevel)
			}

			logger.SetLevel(parsed)

			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use relay address argument if provided, otherwise rely on config.
			var address string
			if len(args) > 0 {
				address = args[0]
			}

			options := &status.Options{
				ConfigPath:   configPath,
				Address:      address,
				Window:       window,
				Watch:        watch,
				PollInterval: interval,
			}

			return status.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-status CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().DurationVarP(&window, "window", "w", 0, "only list activations younger than this")
	rootCmd.Flags().BoolVar(&watch, "watch", false, "poll until interrupted")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", status.DefaultPollInterval, "polling interval in watch mode")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
}
