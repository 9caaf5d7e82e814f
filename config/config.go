// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.justpaid.io/api/v1"

// Config is the root configuration structure.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Polling PollingConfig `yaml:"polling"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Relay   RelayConfig   `yaml:"relay"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

// APIConfig configures the JustPaid API client.
type APIConfig struct {
	BaseURL string            `yaml:"base_url"`
	Token   string            `yaml:"token"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// PollingConfig configures how async ingestion jobs are waited on.
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures the Prometheus endpoint served by long-running
// commands.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// RelayConfig configures the Kafka usage relay.
type RelayConfig struct {
	Brokers    []string      `yaml:"brokers"`
	Topic      string        `yaml:"topic"`
	GroupID    string        `yaml:"group_id"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// DeadLetterTopic receives messages that can never be ingested. Empty
	// drops them after logging.
	DeadLetterTopic string `yaml:"dead_letter_topic,omitempty"`
}

// SandboxConfig configures the local sandbox server.
type SandboxConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
	// Fixtures is a JSON file with customers and invoices. Empty serves the
	// demo catalog.
	Fixtures     string   `yaml:"fixtures,omitempty"`
	JobSteps     []string `yaml:"job_steps,omitempty"`
	FailOnErrors bool     `yaml:"fail_on_errors"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	JUSTPAID_API_TOKEN          - Bearer token (required)
//	JUSTPAID_BASE_URL           - API root (default: production)
//	JUSTPAID_TIMEOUT            - Per-request timeout (default: 30s)
//	JUSTPAID_POLL_INTERVAL      - First job poll interval (default: 100ms)
//	JUSTPAID_POLL_MAX_INTERVAL  - Largest poll interval (default: 5s)
//	JUSTPAID_POLL_MULTIPLIER    - Poll backoff factor (default: 1.5)
//	JUSTPAID_POLL_MAX_WAIT      - Give up waiting after (default: 10m)
//	JUSTPAID_LOG_LEVEL          - debug, info, warn, error (default: info)
//	JUSTPAID_LOG_FORMAT         - json or console (default: console)
//	JUSTPAID_METRICS_ENABLED    - Serve /metrics from the relay (default: false)
//	JUSTPAID_METRICS_ADDR       - Metrics listen address (default: :9090)
//	JUSTPAID_RELAY_BROKERS      - Comma-separated Kafka brokers
//	JUSTPAID_RELAY_TOPIC        - Topic carrying usage batches
//	JUSTPAID_RELAY_GROUP_ID     - Consumer group (default: justpaid-relay)
//	JUSTPAID_RELAY_DLQ_TOPIC    - Dead-letter topic
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide a config file or set JUSTPAID_API_TOKEN")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("JUSTPAID_API_TOKEN") != ""
}

// Defaults returns a configuration with every default applied and no token.
func Defaults() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// applyEnvOverrides applies JUSTPAID_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("JUSTPAID_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("JUSTPAID_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	envDuration("JUSTPAID_TIMEOUT", &cfg.API.Timeout)

	// Polling
	envDuration("JUSTPAID_POLL_INTERVAL", &cfg.Polling.Interval)
	envDuration("JUSTPAID_POLL_MAX_INTERVAL", &cfg.Polling.MaxInterval)
	if v := os.Getenv("JUSTPAID_POLL_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Polling.Multiplier = f
		}
	}
	envDuration("JUSTPAID_POLL_MAX_WAIT", &cfg.Polling.MaxWait)

	// Logging
	if v := os.Getenv("JUSTPAID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("JUSTPAID_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics
	if v := os.Getenv("JUSTPAID_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("JUSTPAID_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	// Relay
	if v := os.Getenv("JUSTPAID_RELAY_BROKERS"); v != "" {
		cfg.Relay.Brokers = splitList(v)
	}
	if v := os.Getenv("JUSTPAID_RELAY_TOPIC"); v != "" {
		cfg.Relay.Topic = v
	}
	if v := os.Getenv("JUSTPAID_RELAY_GROUP_ID"); v != "" {
		cfg.Relay.GroupID = v
	}
	if v := os.Getenv("JUSTPAID_RELAY_DLQ_TOPIC"); v != "" {
		cfg.Relay.DeadLetterTopic = v
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}

	if cfg.Polling.Interval == 0 {
		cfg.Polling.Interval = 100 * time.Millisecond
	}
	if cfg.Polling.MaxInterval == 0 {
		cfg.Polling.MaxInterval = 5 * time.Second
	}
	if cfg.Polling.Multiplier == 0 {
		cfg.Polling.Multiplier = 1.5
	}
	if cfg.Polling.MaxWait == 0 {
		cfg.Polling.MaxWait = 10 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Relay.GroupID == "" {
		cfg.Relay.GroupID = "justpaid-relay"
	}
	if cfg.Relay.RetryDelay == 0 {
		cfg.Relay.RetryDelay = 5 * time.Second
	}

	if cfg.Sandbox.Addr == "" {
		cfg.Sandbox.Addr = ":8090"
	}
}

func validate(cfg *Config) error {
	if cfg.API.Token == "" {
		return fmt.Errorf("api.token is required")
	}

	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}

	if cfg.Polling.Interval < 0 || cfg.Polling.MaxInterval < 0 || cfg.Polling.MaxWait < 0 {
		return fmt.Errorf("polling durations must not be negative")
	}
	if cfg.Polling.Multiplier < 1 {
		return fmt.Errorf("polling.multiplier must be at least 1, got %v", cfg.Polling.Multiplier)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}

// Validate checks that the relay can run.
func (r RelayConfig) Validate() error {
	if len(r.Brokers) == 0 {
		return fmt.Errorf("relay.brokers is required")
	}
	if r.Topic == "" {
		return fmt.Errorf("relay.topic is required")
	}
	if r.DeadLetterTopic != "" && r.DeadLetterTopic == r.Topic {
		return fmt.Errorf("relay.dead_letter_topic must differ from relay.topic")
	}
	return nil
}
