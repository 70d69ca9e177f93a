// Package main implements the entry point for Telestream, the drone telemetry
// ingestion service. Telemetry arrives over MQTT and WebSocket, is validated
// against configurable rules, and flows out to a downstream HTTP endpoint and
// to connected WebSocket observers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/telestream/component"
	"github.com/c360/telestream/config"
	"github.com/c360/telestream/input/mqtt"
	gateway "github.com/c360/telestream/input/websocket"
	"github.com/c360/telestream/metric"
	"github.com/c360/telestream/natsclient"
	"github.com/c360/telestream/output/forward"
	"github.com/c360/telestream/pipeline"
)

// Build information constants
const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "telestream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting Telestream (drone telemetry ingestion)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	var registry *metric.MetricsRegistry
	if cfg.Metrics.Enabled {
		registry = metric.NewMetricsRegistry()
	}

	natsClient, err := buildNATSClient(cfg, registry)
	if err != nil {
		return fmt.Errorf("create bus client: %w", err)
	}
	defer natsClient.Close(ctx)

	if err := connectBus(ctx, natsClient); err != nil {
		return err
	}

	deps := component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: registry,
		Logger:          logger,
	}

	manager := component.NewManager(logger)
	coordinator, err := registerComponents(cfg, deps, manager)
	if err != nil {
		return err
	}

	if err := manager.InitializeAll(); err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry,
			statsAdapter{stats: coordinator.Stats()}, manager.Health)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() { _ = metricsServer.Stop() }()
		slog.Info("Metrics server listening", "address", metricsServer.Address())
	}

	return runWithSignalHandling(ctx, manager, cliCfg.ShutdownTimeout)
}

// loadConfig builds the layered configuration. An empty path means defaults
// plus environment overrides only.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	if path == "" {
		return loader.Load()
	}
	return loader.LoadFile(path)
}

// buildNATSClient maps bus configuration onto client options
func buildNATSClient(cfg *config.Config, registry *metric.MetricsRegistry) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Service.Name),
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}
	if registry != nil {
		opts = append(opts, natsclient.WithMetrics(registry))
	}
	return natsclient.NewClient(cfg.NATS.URL, opts...)
}

// connectBus establishes the bus connection and waits for it to be ready
func connectBus(ctx context.Context, client *natsclient.Client) error {
	slog.Info("Connecting to internal bus")
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("bus connection timeout: %w", err)
	}
	return nil
}

// registerComponents builds the pipeline and its adapters in start order:
// the coordinator and valid-reading consumers subscribe before the ingress
// adapters begin producing.
func registerComponents(
	cfg *config.Config,
	deps component.Dependencies,
	manager *component.Manager,
) (*pipeline.Coordinator, error) {
	coordinator, err := pipeline.NewCoordinator(pipeline.Config{Rules: cfg.Rules}, deps)
	if err != nil {
		return nil, fmt.Errorf("create pipeline coordinator: %w", err)
	}
	if err := manager.Register(coordinator); err != nil {
		return nil, err
	}

	if cfg.Forward.Enabled {
		forwarder, err := forward.NewForwarder(forward.ForwarderDeps{
			Config: forward.ForwarderConfig{
				URL:     cfg.Forward.URL,
				Timeout: cfg.Forward.Timeout,
				Headers: cfg.Forward.Headers,
			},
			NATSClient:      deps.NATSClient,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create forwarder: %w", err)
		}
		if err := manager.Register(forwarder); err != nil {
			return nil, err
		}
	} else {
		slog.Info("Downstream forwarding disabled")
	}

	socketGateway, err := gateway.NewServer(gateway.ServerDeps{
		Config: gateway.ServerConfig{
			Host:         cfg.Socket.Host,
			Port:         cfg.Socket.Port,
			Path:         cfg.Socket.Path,
			MaxClients:   cfg.Socket.MaxClients,
			ReadLimit:    cfg.Socket.ReadLimit,
			WriteTimeout: cfg.Socket.WriteTimeout,
			PingInterval: cfg.Socket.PingInterval,
		},
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create socket gateway: %w", err)
	}
	if err := manager.Register(socketGateway); err != nil {
		return nil, err
	}

	mqttInput, err := mqtt.NewInput(mqtt.InputDeps{
		Config: mqtt.InputConfig{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       cfg.MQTT.ClientID,
			Topic:          cfg.MQTT.Topic,
			QoS:            cfg.MQTT.QoS,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			KeepAlive:      cfg.MQTT.KeepAlive,
			Subject:        pipeline.DefaultRawSubject,
		},
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create mqtt ingress: %w", err)
	}
	if err := manager.Register(mqttInput); err != nil {
		return nil, err
	}

	return coordinator, nil
}

// statsAdapter exposes the pipeline counters to the metrics server
type statsAdapter struct {
	stats *pipeline.Stats
}

func (a statsAdapter) Snapshot() any {
	return a.stats.Snapshot()
}

// runWithSignalHandling starts all components and blocks until a shutdown
// signal arrives.
func runWithSignalHandling(ctx context.Context, manager *component.Manager, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("Telestream started, telemetry pipeline ready")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := manager.StopAll(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Telestream shutdown complete")
	return nil
}
