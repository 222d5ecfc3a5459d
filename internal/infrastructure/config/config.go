package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Fieldline Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Bus      BusConfig      `yaml:"bus"`
	Poll     PollConfig     `yaml:"poll"`
	Rules    RulesConfig    `yaml:"rules"`
	Sinks    SinksConfig    `yaml:"sinks"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// GatewayConfig contains gateway-wide identity settings.
type GatewayConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr
}

// BusConfig contains event bus queue settings.
type BusConfig struct {
	// RuleQueueSize is the bounded queue depth for the rule engine subscriber.
	RuleQueueSize int `yaml:"rule_queue_size"`

	// LiveQueueSize is the bounded queue depth for live-view subscribers.
	LiveQueueSize int `yaml:"live_queue_size"`

	// RuleBlockTimeout is how long (milliseconds) a publisher blocks on a full
	// rule queue before the bus drops the oldest queued event.
	RuleBlockTimeout int `yaml:"rule_block_timeout"`
}

// PollConfig contains poll scheduler settings.
type PollConfig struct {
	// DefaultInterval is the poll interval in milliseconds used when a device
	// does not specify its own.
	DefaultInterval int `yaml:"default_interval"`

	// JitterPercent spreads schedule start across 0-N percent of the interval
	// to avoid synchronized bursts.
	JitterPercent int `yaml:"jitter_percent"`

	// FailureThreshold is the number of consecutive whole-device read failures
	// before the device is escalated to the Error state.
	FailureThreshold int `yaml:"failure_threshold"`
}

// RulesConfig contains rule engine settings.
type RulesConfig struct {
	// HopLimit caps the per-event hop counter; dispatch back into a trigger is
	// refused once the limit is exceeded.
	HopLimit int `yaml:"hop_limit"`

	// Workers is the number of evaluation goroutines consuming the rule queue.
	Workers int `yaml:"workers"`

	// ScriptTimeout bounds a single script node evaluation, in milliseconds.
	ScriptTimeout int `yaml:"script_timeout"`
}

// ShutdownConfig contains graceful shutdown settings.
type ShutdownConfig struct {
	// DrainTimeout is the maximum time in seconds to drain queued events
	// through the rule engine and sinks before discarding remaining work.
	DrainTimeout int `yaml:"drain_timeout"`
}

// SinksConfig groups the downstream sink configurations.
type SinksConfig struct {
	Storage   StorageSinkConfig   `yaml:"storage"`
	MQTT      MQTTSinkConfig      `yaml:"mqtt"`
	HTTP      HTTPSinkConfig      `yaml:"http"`
	Databoard DataboardSinkConfig `yaml:"databoard"`

	// Retry is the shared per-sink delivery retry policy.
	Retry SinkRetryConfig `yaml:"retry"`
}

// SinkRetryConfig contains per-sink delivery retry settings.
type SinkRetryConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	InitialDelay int `yaml:"initial_delay"` // milliseconds
	MaxDelay     int `yaml:"max_delay"`     // milliseconds
}

// StorageSinkConfig contains InfluxDB storage sink settings.
type StorageSinkConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// MQTTSinkConfig contains MQTT app sink settings.
type MQTTSinkConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	TopicBase string              `yaml:"topic_base"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"` // seconds
	MaxDelay     int `yaml:"max_delay"`     // seconds
	MaxAttempts  int `yaml:"max_attempts"`  // 0 = unlimited
}

// HTTPSinkConfig contains outbound HTTP app sink settings.
type HTTPSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// DataboardSinkConfig contains the live dashboard feed settings.
type DataboardSinkConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"` // seconds
	PongTimeout    int    `yaml:"pong_timeout"`  // seconds
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FIELDLINE_SECTION_KEY
// For example: FIELDLINE_DATABASE_PATH, FIELDLINE_STORAGE_TOKEN
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:       "gateway-001",
			Name:     "Fieldline",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/fieldline.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bus: BusConfig{
			RuleQueueSize:    1024,
			LiveQueueSize:    256,
			RuleBlockTimeout: 100,
		},
		Poll: PollConfig{
			DefaultInterval:  1000,
			JitterPercent:    10,
			FailureThreshold: 3,
		},
		Rules: RulesConfig{
			HopLimit:      4,
			Workers:       4,
			ScriptTimeout: 250,
		},
		Shutdown: ShutdownConfig{
			DrainTimeout: 10,
		},
		Sinks: SinksConfig{
			Retry: SinkRetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200,
				MaxDelay:     5000,
			},
			Storage: StorageSinkConfig{
				BatchSize:     500,
				FlushInterval: 1,
			},
			MQTT: MQTTSinkConfig{
				Broker: MQTTBrokerConfig{
					Host:     "localhost",
					Port:     1883,
					ClientID: "fieldline-core",
				},
				QoS:       1,
				TopicBase: "fieldline",
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
				},
			},
			HTTP: HTTPSinkConfig{
				Timeout: 10,
			},
			Databoard: DataboardSinkConfig{
				Host:           "0.0.0.0",
				Port:           8090,
				Path:           "/live",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FIELDLINE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FIELDLINE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FIELDLINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FIELDLINE_STORAGE_URL"); v != "" {
		cfg.Sinks.Storage.URL = v
	}
	if v := os.Getenv("FIELDLINE_STORAGE_TOKEN"); v != "" {
		cfg.Sinks.Storage.Token = v
	}
	if v := os.Getenv("FIELDLINE_MQTT_HOST"); v != "" {
		cfg.Sinks.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FIELDLINE_MQTT_USERNAME"); v != "" {
		cfg.Sinks.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FIELDLINE_MQTT_PASSWORD"); v != "" {
		cfg.Sinks.MQTT.Auth.Password = v
	}
	if v := os.Getenv("FIELDLINE_HTTP_SINK_URL"); v != "" {
		cfg.Sinks.HTTP.URL = v
	}
	if v := os.Getenv("FIELDLINE_RULES_HOP_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Rules.HopLimit = n
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Bus.RuleQueueSize <= 0 {
		errs = append(errs, "bus.rule_queue_size must be positive")
	}
	if c.Bus.LiveQueueSize <= 0 {
		errs = append(errs, "bus.live_queue_size must be positive")
	}
	if c.Bus.RuleBlockTimeout < 0 {
		errs = append(errs, "bus.rule_block_timeout must not be negative")
	}
	if c.Poll.DefaultInterval <= 0 {
		errs = append(errs, "poll.default_interval must be positive")
	}
	if c.Poll.JitterPercent < 0 || c.Poll.JitterPercent > 100 {
		errs = append(errs, "poll.jitter_percent must be 0-100")
	}
	if c.Poll.FailureThreshold <= 0 {
		errs = append(errs, "poll.failure_threshold must be positive")
	}
	if c.Rules.HopLimit <= 0 {
		errs = append(errs, "rules.hop_limit must be positive")
	}
	if c.Rules.Workers <= 0 {
		errs = append(errs, "rules.workers must be positive")
	}
	if c.Sinks.Retry.MaxAttempts <= 0 {
		errs = append(errs, "sinks.retry.max_attempts must be positive")
	}
	if c.Sinks.Storage.Enabled {
		if c.Sinks.Storage.URL == "" {
			errs = append(errs, "sinks.storage.url is required when storage sink is enabled")
		}
		if c.Sinks.Storage.Bucket == "" {
			errs = append(errs, "sinks.storage.bucket is required when storage sink is enabled")
		}
	}
	if c.Sinks.HTTP.Enabled && c.Sinks.HTTP.URL == "" {
		errs = append(errs, "sinks.http.url is required when http sink is enabled")
	}
	if c.Sinks.Databoard.Enabled && c.Sinks.Databoard.Port <= 0 {
		errs = append(errs, "sinks.databoard.port must be positive when databoard is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetRuleBlockTimeout returns the publisher block bound as a duration.
func (c *Config) GetRuleBlockTimeout() time.Duration {
	return time.Duration(c.Bus.RuleBlockTimeout) * time.Millisecond
}

// GetDefaultPollInterval returns the default poll interval as a duration.
func (c *Config) GetDefaultPollInterval() time.Duration {
	return time.Duration(c.Poll.DefaultInterval) * time.Millisecond
}

// GetScriptTimeout returns the script node evaluation bound as a duration.
func (c *Config) GetScriptTimeout() time.Duration {
	return time.Duration(c.Rules.ScriptTimeout) * time.Millisecond
}

// GetDrainTimeout returns the shutdown drain deadline as a duration.
func (c *Config) GetDrainTimeout() time.Duration {
	return time.Duration(c.Shutdown.DrainTimeout) * time.Second
}
