package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	SimTimeVar      string
	Variables       stringList
	MetricsAddr     string
	HealthAddr      string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("PLOTSTREAM_CONFIG", ""),
		"Path to configuration file, JSON or YAML (env: PLOTSTREAM_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("PLOTSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: PLOTSTREAM_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("PLOTSTREAM_LOG_FORMAT", "text"),
		"Log format: json, text (env: PLOTSTREAM_LOG_FORMAT)")

	flag.StringVar(&cfg.SimTimeVar, "sim-time-var",
		getEnv("PLOTSTREAM_SIM_TIME_VAR", ""),
		"Introspection item used as the x axis (env: PLOTSTREAM_SIM_TIME_VAR)")

	flag.Var(&cfg.Variables, "var",
		"Variable URI to plot, repeatable")

	flag.StringVar(&cfg.MetricsAddr, "metrics-addr",
		getEnv("PLOTSTREAM_METRICS_ADDR", ""),
		"Prometheus listen address, empty to disable (env: PLOTSTREAM_METRICS_ADDR)")

	flag.StringVar(&cfg.HealthAddr, "health-addr",
		getEnv("PLOTSTREAM_HEALTH_ADDR", ""),
		"Health endpoint listen address, empty to disable (env: PLOTSTREAM_HEALTH_ADDR)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("PLOTSTREAM_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: PLOTSTREAM_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - introspection curve bridge

Subscribes to a simulation introspection feed and streams (sim time, value)
samples for the requested variables.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Plot a model's x position
  %s --var "data://world/default/model/box?p=pose/world_pose/vector3/position/double/x"

  # Run against a custom NATS server with metrics
  PLOTSTREAM_NATS_URLS=nats://sim-host:4222 %s --metrics-addr :9090 --var "data://robot?p=battery/voltage"

  # Validate a configuration file
  %s --config config.yaml --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
