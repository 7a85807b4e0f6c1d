// Package main implements the plotstream entry point: a bridge that
// subscribes to a simulation introspection feed over NATS and streams
// (sim time, value) samples for the requested variables to stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/plotstream/bridge"
	"github.com/c360/plotstream/config"
	"github.com/c360/plotstream/health"
	"github.com/c360/plotstream/introspection"
	"github.com/c360/plotstream/metric"
	"github.com/c360/plotstream/natsclient"
	"github.com/c360/plotstream/plot"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "plotstream"
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
		slog.Error("application failed", "error", err)
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

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	if len(cfg.Bridge.Variables) == 0 {
		return fmt.Errorf("no variables to plot: pass --var or set bridge.variables")
	}

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	natsClient, err := connectNATS(ctx, cfg, logger, registry, monitor)
	if err != nil {
		return err
	}
	defer func() {
		if err := natsClient.Close(); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	introClient := introspection.NewClient(natsClient, introspection.WithClientLogger(logger))

	handler := bridge.NewHandler(bridge.HandlerDeps{
		Client:           bridge.Adapt(introClient),
		Logger:           logger,
		MetricsRegistry:  registry,
		SimTimeVar:       cfg.Bridge.SimTimeVar,
		DiscoveryTimeout: cfg.Bridge.DiscoveryTimeout,
	})

	table := plot.NewTable()
	for _, variable := range cfg.Bridge.Variables {
		variable := variable
		curve := plot.NewCurve(variable, plot.WithOnAppend(func(p plot.Point) {
			fmt.Printf("%s,%g,%g\n", variable, p.X, p.Y)
		}))
		handler.AddCurve(variable, table.Add(curve))
	}

	handler.Start()
	defer handler.Stop()

	g, gctx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		watchHandlerState(gctx, handler, monitor)
		return nil
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", registry.Handler())
			mux.Handle("/healthz", monitor.Handler(appName))
			return serveHTTP(gctx, cfg.Metrics.Addr, mux, cliCfg.ShutdownTimeout)
		})
	}
	if cliCfg.HealthAddr != "" && (!cfg.Metrics.Enabled || cliCfg.HealthAddr != cfg.Metrics.Addr) {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/healthz", monitor.Handler(appName))
			return serveHTTP(gctx, cliCfg.HealthAddr, mux, cliCfg.ShutdownTimeout)
		})
	}

	slog.Info("plotstream started",
		"sim_time_var", cfg.Bridge.SimTimeVar,
		"variables", len(cfg.Bridge.Variables))

	// gctx ends on a shutdown signal or on any server goroutine failing.
	<-gctx.Done()
	slog.Info("shutting down")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("plotstream shutdown complete")
	return nil
}

// loadConfig loads the configuration and applies CLI overrides on top.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.SimTimeVar != "" {
		cfg.Bridge.SimTimeVar = cliCfg.SimTimeVar
	}
	cfg.Bridge.Variables = append(cfg.Bridge.Variables, cliCfg.Variables...)
	if cliCfg.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = cliCfg.MetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// connectNATS creates and connects the NATS client, wiring connection events
// into metrics and health.
func connectNATS(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithClientName(cfg.NATS.ClientName),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithDisconnectCallback(func(_ error) {
			registry.Metrics.NATSConnected.Set(0)
			monitor.UpdateUnhealthy("nats", "disconnected")
		}),
		natsclient.WithReconnectCallback(func() {
			registry.Metrics.NATSConnected.Set(1)
			registry.Metrics.NATSReconnects.Inc()
			monitor.UpdateHealthy("nats", "reconnected")
		}),
	}
	if cfg.NATS.Username != "" && cfg.NATS.Password != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URLs[0], opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("connecting to NATS", "url", natsClient.URL())
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.Connect(connCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	registry.Metrics.NATSConnected.Set(1)
	monitor.UpdateHealthy("nats", "connected")
	return natsClient, nil
}

// watchHandlerState mirrors the curve handler's lifecycle state into the
// health monitor until the context is cancelled.
func watchHandlerState(ctx context.Context, handler *bridge.Handler, monitor *health.Monitor) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		switch handler.State() {
		case bridge.StateActive:
			monitor.UpdateHealthy("bridge", "subscribed to manager "+handler.ManagerID())
		case bridge.StateStarting:
			monitor.UpdateDegraded("bridge", "discovering introspection managers")
		default:
			msg := "handler is " + handler.State().String()
			if err := handler.SetupError(); err != nil {
				msg += ": " + err.Error()
			}
			monitor.UpdateUnhealthy("bridge", msg)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// serveHTTP runs an HTTP server until the context is cancelled, then shuts
// it down gracefully.
func serveHTTP(ctx context.Context, addr string, mux http.Handler, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
