// Package main implements simfeed, a synthetic introspection manager used
// to exercise plotstream without a real simulator. It registers a handful of
// moving variables and publishes filtered batches at a fixed rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360/plotstream/introspection"
	"github.com/c360/plotstream/natsclient"
	"github.com/c360/plotstream/pkg/spatial"
	"github.com/c360/plotstream/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("simfeed failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		natsURL   = flag.String("nats-url", envOr("SIMFEED_NATS_URL", "nats://localhost:4222"), "NATS server URL")
		managerID = flag.String("manager-id", "simfeed", "Introspection manager id")
		rate      = flag.Duration("rate", 100*time.Millisecond, "Publish interval")
		logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	nc, err := natsclient.NewClient(*natsURL,
		natsclient.WithClientName("simfeed"),
		natsclient.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := nc.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		if err := nc.Close(); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	manager := introspection.NewManager(*managerID, nc,
		introspection.WithManagerLogger(logger))

	start := time.Now()
	simTime := func() float64 { return time.Since(start).Seconds() }
	registerItems(manager, simTime)

	if err := manager.Start(); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}
	defer manager.Stop()

	logger.Info("simfeed publishing", "manager_id", *managerID, "rate", *rate)

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("simfeed stopped")
			return nil
		case <-ticker.C:
			if err := manager.Update(); err != nil {
				logger.Warn("update failed", "error", err)
			}
		}
	}
}

// registerItems wires the synthetic variables: sim time, a box circling the
// origin, its velocity, a decaying battery and a bumper that fires once a
// second.
func registerItems(manager *introspection.Manager, simTime func() float64) {
	manager.Register("data://world/default?p=sim_time", func() *types.ParamValue {
		return types.Time(simTime())
	})

	manager.Register("data://world/default/model/box?p=pose/world_pose", func() *types.ParamValue {
		t := simTime()
		return types.Pose(spatial.Pose{
			Position:    spatial.Vector3{X: 5 * math.Cos(t), Y: 5 * math.Sin(t), Z: 0.5},
			Orientation: spatial.FromEuler(0, 0, t),
		})
	})

	manager.Register("data://world/default/model/box?p=velocity/linear", func() *types.ParamValue {
		t := simTime()
		return types.Vector3(spatial.Vector3{X: -5 * math.Sin(t), Y: 5 * math.Cos(t), Z: 0})
	})

	manager.Register("data://world/default/model/box?p=battery/voltage", func() *types.ParamValue {
		return types.Double(12.6 - 0.01*simTime())
	})

	manager.Register("data://world/default/model/box?p=sensor/bumper/contact", func() *types.ParamValue {
		_, frac := math.Modf(simTime())
		return types.Bool(frac < 0.1)
	})
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	return slog.New(handler).With("service", "simfeed")
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
