package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/service/relay"
	"github.com/oshokin/alarm-relay/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile path where the last attribution is persisted.
	stateFile string
	// metricsAddress overrides the Prometheus endpoint address.
	metricsAddress string
	// envFile is loaded into the environment before the config is read.
	envFile string
	// logLevel is the minimum level written to the log.
	logLevel string
	// logFormat selects console or json log lines.
	logFormat string
	// allowMultiple disables the single-instance check.
	allowMultiple bool

	// errUnknownLogLevel is returned for an unsupported --log-level value.
	errUnknownLogLevel = errors.New("unknown log level")
	// errUnknownLogFormat is returned for an unsupported --log-format value.
	errUnknownLogFormat = errors.New("unknown log format")

	// rootCmd represents the base command for running the relay.
	rootCmd = &cobra.Command{
		Use:   "alarm-relay [status-listen-address]",
		Short: "Relay alarm state and trigger source from Home Assistant to ESPHome displays.",
		Long: `Connects to the Home Assistant WebSocket API and watches the configured alarm entity.

Door, window, motion and similar sensors switching to an active state are remembered
for a short time. When the alarm becomes triggered, the most recent of them inside the
lookback window is reported as the trigger source; otherwise the alarm's own "source"
attribute or "Alarm" is used.

Every alarm state change and the attributed source are pushed to the configured
ESPHome devices through their <device>_set_alarm_state, <device>_set_alarm_source and
<device>_set_alarm_panel_name actions. Missing actions are skipped silently.

The access token is read from the config or from the HASS_TOKEN environment variable,
which may be set in a .env file. A gRPC status API and a Prometheus endpoint are served
when their addresses are configured; the status address can be given as argument.`,
		Args: cobra.MaximumNArgs(1),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogging(logLevel, logFormat)
		},
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := loadEnvFile(envFile); err != nil {
				return err
			}

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &relay.Options{
				ConfigPath:     configPath,
				ListenAddress:  listenAddress,
				MetricsAddress: metricsAddress,
				StateFile:      stateFile,
				AllowMultiple:  allowMultiple,
			}

			return relay.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-relay CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging applies the --log-level and --log-format flags to the global logger.
func setupLogging(level, format string) error {
	parsedLevel, ok := logger.ParseLogLevel(level)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, level)
	}

	parsedFormat, ok := logger.ParseFormat(format)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogFormat, format)
	}

	logger.Configure(parsedFormat)
	logger.SetLevel(parsedLevel)

	return nil
}

// loadEnvFile loads variables from path, a missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&stateFile, "state-file", "s", "", "path to persist the last attribution")
	rootCmd.Flags().StringVarP(&metricsAddress, "metrics-addr", "m", "", "prometheus endpoint address")
	rootCmd.Flags().StringVarP(&envFile, "env-file", "e", ".env", "dotenv file with HASS_TOKEN")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logger.FormatConsole), "log format (console, json)")

	// Hidden flag for running several relays against different alarms on one host.
	rootCmd.Flags().BoolVar(&allowMultiple, "allow-multiple", false, "skip the single-instance check")

	err := rootCmd.Flags().MarkHidden("allow-multiple")
	if err != nil {
		panic(err)
	}
}
