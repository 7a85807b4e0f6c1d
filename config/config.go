// Package config loads and validates the application configuration from
// JSON or YAML files, with environment variable overrides layered on top.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/plotstream/pkg/uri"
)

// Config represents the complete application configuration.
type Config struct {
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	Bridge  BridgeConfig  `json:"bridge" yaml:"bridge"`
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// NATSConfig defines NATS connection settings.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	ClientName    string        `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
}

// BridgeConfig defines curve handler settings.
type BridgeConfig struct {
	// SimTimeVar is the introspection item used as the x axis.
	SimTimeVar string `json:"sim_time_var,omitempty" yaml:"sim_time_var,omitempty"`
	// DiscoveryTimeout bounds the wait for an introspection manager.
	DiscoveryTimeout time.Duration `json:"discovery_timeout,omitempty" yaml:"discovery_timeout,omitempty"`
	// Variables are curve variable names subscribed at startup.
	Variables []string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LoggingConfig defines log output settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // text, json
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			ClientName:    "plotstream",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Bridge: BridgeConfig{
			SimTimeVar:       "data://world/default?p=sim_time",
			DiscoveryTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	for i, u := range c.NATS.URLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("nats.urls[%d] is empty", i)
		}
	}

	if c.Bridge.SimTimeVar == "" {
		return errors.New("bridge.sim_time_var is required")
	}
	if _, err := uri.Parse(c.Bridge.SimTimeVar); err != nil {
		return fmt.Errorf("bridge.sim_time_var: %w", err)
	}
	if c.Bridge.DiscoveryTimeout <= 0 {
		return errors.New("bridge.discovery_timeout must be positive")
	}
	for i, v := range c.Bridge.Variables {
		if _, err := uri.Parse(v); err != nil {
			return fmt.Errorf("bridge.variables[%d]: %w", i, err)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Loader handles configuration loading with layers and overrides.
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a configuration loader with the PLOTSTREAM env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "PLOTSTREAM"}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, all file layers, and environment overrides, then
// validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, raw)
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadRaw reads a config file into a map. The format is selected by file
// extension: .yaml/.yml parse as YAML, everything else as JSON.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	parseDurations(raw)
	return raw, nil
}

// mergeFromMap merges a raw map over the base config, only overriding fields
// present in the map.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedJSON, err := json.Marshal(deepMerge(baseMap, override))
	if err != nil {
		return base
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}
	return &merged
}

// deepMerge recursively merges two maps, with override taking precedence.
func deepMerge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration strings to nanoseconds so they survive
// the JSON round trip into time.Duration fields.
func parseDurations(raw map[string]any) {
	if nats, ok := raw["nats"].(map[string]any); ok {
		parseDurationField(nats, "reconnect_wait")
	}
	if bridge, ok := raw["bridge"].(map[string]any); ok {
		parseDurationField(bridge, "discovery_timeout")
	}
}

func parseDurationField(section map[string]any, key string) {
	if s, ok := section[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			section[key] = d.Nanoseconds()
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_SIM_TIME_VAR"); val != "" {
		cfg.Bridge.SimTimeVar = val
	}
	if val := os.Getenv(l.envPrefix + "_METRICS_ADDR"); val != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
