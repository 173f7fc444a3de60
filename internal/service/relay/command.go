package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	api "github.com/oshokin/alarm-relay/internal/api/grpc/attribution"
	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/homeassistant"
	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/metrics"
	pb "github.com/oshokin/alarm-relay/internal/pb/v1"
	repository "github.com/oshokin/alarm-relay/internal/repository/state"
	"github.com/oshokin/alarm-relay/internal/service/common"
	"github.com/oshokin/alarm-relay/internal/service/dispatcher"
)

// ProcessName is the relay executable name used by the single-instance check.
const ProcessName = "alarm-relay"

// Options controls the alarm-relay process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the gRPC status API address from the config.
	ListenAddress string
	// MetricsAddress overrides the Prometheus endpoint address from the config.
	MetricsAddress string
	// StateFile overrides the path of the last attribution JSON.
	StateFile string
	// AllowMultiple skips the single-instance check.
	AllowMultiple bool
	// Ready, if set, receives the bound status and metrics addresses once listening.
	Ready func(addresses Addresses)
}

// Addresses are the actual listen addresses of the relay's servers.
type Addresses struct {
	Status  string
	Metrics string
}

var (
	// ErrAlreadyRunning indicates another relay process is active.
	ErrAlreadyRunning = errors.New("another alarm-relay process is already running")
	// ErrNoToken indicates neither the config nor the environment provides an access token.
	ErrNoToken = errors.New("no home assistant access token configured")
)

// Run connects to Home Assistant and relays alarm state until ctx is canceled.
//
//nolint:funlen // Wiring of every component reads best in one place.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, ProcessName)

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	applyOverrides(settings, opts)

	token := settings.Token()
	if token == "" {
		return fmt.Errorf("%w: set access_token or %s", ErrNoToken, config.TokenEnv)
	}

	wsURL, err := config.WebSocketURL(settings.HomeAssistantURL)
	if err != nil {
		return err
	}

	if !opts.AllowMultiple {
		if err = ensureSingleInstance(ProcessName); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	live := new(liveRegistry)

	push := dispatcher.New(live, live, dispatcher.Options{
		Devices:     settings.ESPHomeDevices,
		AlarmEntity: settings.AlarmEntity,
		CallRate:    settings.CallRate,
		CallBurst:   settings.CallBurst,
	}, m)

	engine, err := NewEngine(ctx, EngineOptions{
		AlarmEntity:   settings.AlarmEntity,
		SensorDomains: settings.SensorDomains,
		Lookback:      settings.Lookback(),
		CacheCapacity: settings.CacheCapacity,
	}, push, repository.NewFileRepository(settings.StateFile), m)
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}

	defer engine.Close()

	metrics.RegisterCacheSize(registry, engine.CacheSize)

	logger.InfoKV(ctx, "Alarm relay starting",
		"home_assistant", wsURL,
		"alarm_entity", settings.AlarmEntity,
		"devices", strings.Join(settings.ESPHomeDevices, ","),
		"lookback", settings.Lookback().String(),
		"state_file", settings.StateFile)

	group, groupCtx := errgroup.WithContext(ctx)

	statusListener, metricsListener, err := openListeners(groupCtx, settings)
	if err != nil {
		return err
	}

	var addresses Addresses

	if statusListener != nil {
		addresses.Status = statusListener.Addr().String()

		grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(ctx)))
		pb.RegisterAttributionServiceServer(grpcServer, api.NewServer(engine))

		group.Go(func() error {
			return serveGRPC(groupCtx, grpcServer, statusListener)
		})
	}

	if metricsListener != nil {
		addresses.Metrics = metricsListener.Addr().String()

		group.Go(func() error {
			return serveMetrics(groupCtx, registry, metricsListener)
		})
	}

	if opts.Ready != nil {
		opts.Ready(addresses)
	}

	loop := &connectionLoop{
		dial: func(ctx context.Context) (*homeassistant.Client, error) {
			return homeassistant.Dial(ctx, wsURL, token,
				homeassistant.WithTimeout(settings.Timeout),
				homeassistant.WithServiceCacheTTL(settings.ServiceCacheTTL),
				homeassistant.WithStateHandler(engine.HandleStateChange))
		},
		engine:       engine,
		registry:     live,
		metrics:      m,
		initialDelay: initialReconnectDelay,
		maxDelay:     maxReconnectDelay,
	}

	group.Go(func() error {
		if loopErr := loop.run(groupCtx); loopErr != nil {
			return loopErr
		}

		// Stop the servers once the connection loop is done.
		return context.Canceled
	})

	if err = group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info(ctx, "Alarm relay stopped")

	return nil
}

// applyOverrides replaces config values with non-empty command line options.
func applyOverrides(settings *config.Config, opts *Options) {
	if opts.ListenAddress != "" {
		settings.ListenAddress = opts.ListenAddress
	}

	if opts.MetricsAddress != "" {
		settings.MetricsAddress = opts.MetricsAddress
	}

	if opts.StateFile != "" {
		settings.StateFile = opts.StateFile
	}
}

// openListeners binds the optional status and metrics addresses. A nil
// listener means the server is disabled.
func openListeners(ctx context.Context, settings *config.Config) (net.Listener, net.Listener, error) {
	var statusListener, metricsListener net.Listener

	lc := net.ListenConfig{}

	if settings.ListenAddress != "" {
		lis, err := lc.Listen(ctx, "tcp", settings.ListenAddress)
		if err != nil {
			return nil, nil, fmt.Errorf("listen on %s: %w", settings.ListenAddress, err)
		}

		statusListener = lis
	}

	if settings.MetricsAddress != "" {
		lis, err := lc.Listen(ctx, "tcp", settings.MetricsAddress)
		if err != nil {
			if statusListener != nil {
				_ = statusListener.Close()
			}

			return nil, nil, fmt.Errorf("listen on %s: %w", settings.MetricsAddress, err)
		}

		metricsListener = lis
	}

	return statusListener, metricsListener, nil
}

// serveGRPC serves the status API until ctx is canceled.
func serveGRPC(ctx context.Context, grpcServer *grpc.Server, lis net.Listener) error {
	logger.InfoKV(ctx, "Status API listening", "listen_address", lis.Addr().String())

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done

	return nil
}

// serveMetrics serves /metrics until ctx is canceled.
func serveMetrics(ctx context.Context, registry *prometheus.Registry, lis net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: config.DefaultTimeout,
	}

	logger.InfoKV(ctx, "Metrics endpoint listening", "listen_address", lis.Addr().String())

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.DefaultTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}

	return nil
}

// loggingInterceptor logs every status request together with the requesting actor.
func loggingInterceptor(ctx context.Context) grpc.UnaryServerInterceptor {
	ctx = logger.WithName(ctx, "status-api")

	return func(
		requestCtx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		started := time.Now()
		resp, err := handler(requestCtx, req)

		logger.DebugKV(ctx, "Status request served",
			"method", info.FullMethod,
			"actor", common.ActorFromIncomingContext(requestCtx).String(),
			"duration", time.Since(started).String(),
			"error", err)

		return resp, err
	}
}

// ensureSingleInstance fails when another process runs the same executable.
func ensureSingleInstance(processName string) error {
	processList, err := ps.Processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		executable := strings.TrimSuffix(process.Executable(), ".exe")
		if executable != processName {
			continue
		}

		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, process.Pid())
	}

	return nil
}
