package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var configValidator = validator.New()

// Config is the explicit engine configuration. It is constructed by the
// caller (or loaded from a YAML file) and passed by reference to the
// components that need it; nothing reads configuration ambiently.
type Config struct {
	// Identity is the default caller identity for dispatched requests
	// when a playbook declares no run_as.
	Identity string `yaml:"identity" validate:"required"`

	// BatchSize bounds the nodes per RPC round. Zero uses the engine
	// default.
	BatchSize int `yaml:"batch_size" validate:"gte=0"`

	// RetryLimit is the number of re-dispatches under the retry policy.
	RetryLimit int `yaml:"retry_limit" validate:"gte=0"`

	// RetryDelaySeconds is the fixed pause between retry rounds.
	RetryDelaySeconds int `yaml:"retry_delay_seconds" validate:"gte=0"`

	// DispatchTimeoutSeconds is the default per-batch timeout for tasks
	// that set none.
	DispatchTimeoutSeconds int `yaml:"dispatch_timeout_seconds" validate:"gte=0"`

	// InventoryPath locates the YAML node inventory.
	InventoryPath string `yaml:"inventory" validate:"required"`

	// AgentsPath locates the YAML agent capability file.
	AgentsPath string `yaml:"agents" validate:"required"`

	// StorePath locates the SQLite run store. Empty disables persistence.
	StorePath string `yaml:"store"`

	// PolicyDir locates the Rego policy directory. Empty uses only the
	// built-in policy.
	PolicyDir string `yaml:"policy_dir"`

	// SSH configures the dispatch transport.
	SSH SSHConfig `yaml:"ssh"`

	// Logging configures the engine logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures the OpenTelemetry exporter.
	Tracing TracingConfig `yaml:"tracing"`
}

// SSHConfig holds the transport settings handed to the SSH client.
type SSHConfig struct {
	// User is the SSH username on managed nodes.
	User string `yaml:"user" validate:"required"`

	// Port is the SSH port.
	Port int `yaml:"port" validate:"gt=0,lte=65535"`

	// PrivateKeyPath is the controller's private key.
	PrivateKeyPath string `yaml:"private_key"`

	// KnownHostsPath is the known_hosts file for host verification.
	KnownHostsPath string `yaml:"known_hosts"`

	// StrictHostKeyChecking rejects unknown hosts.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking"`

	// ConnectTimeoutSeconds bounds connection establishment per node.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" validate:"gt=0"`

	// MaxInFlight bounds concurrent node sessions per dispatch.
	MaxInFlight int `yaml:"max_in_flight" validate:"gt=0"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for metrics.
	Path string `yaml:"path"`
}

// TracingConfig configures the OpenTelemetry trace exporter.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure"`
}

// DefaultConfig returns a configuration with workable defaults. Identity
// and the inventory/agents paths still have to be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:              50,
		RetryLimit:             2,
		RetryDelaySeconds:      5,
		DispatchTimeoutSeconds: 60,
		SSH: SSHConfig{
			Port:                  22,
			StrictHostKeyChecking: true,
			ConnectTimeoutSeconds: 15,
			MaxInFlight:           32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			SamplingRate: 1.0,
			Insecure:     true,
		},
	}
}

// Load reads a YAML configuration file over the defaults and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if c.SSH.User == "" {
		// run as the controller identity by default
		c.SSH.User = c.Identity
	}
	return configValidator.Struct(c)
}

// RetryDelay returns the configured retry pause as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// DispatchTimeout returns the configured default dispatch timeout.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

// ConnectTimeout returns the configured SSH connect timeout.
func (c *SSHConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}
