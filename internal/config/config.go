// Package config provides YAML-based configuration for hidflux.
// Supports validation, defaults, and env-var overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hidflux/hidflux/internal/constants"
)

// Config is the top-level configuration for the hidflux daemon.
type Config struct {
	Agent       AgentConfig     `yaml:"agent"`
	Source      SourceConfig    `yaml:"source"`
	Programs    []ProgramConfig `yaml:"programs"`
	Exporters   ExportersConfig `yaml:"exporters"`
	API         APIConfig       `yaml:"api"`
	Performance PerfConfig      `yaml:"performance"`
}

// AgentConfig holds global daemon settings.
type AgentConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	NodeName    string `yaml:"node_name"`
	LogLevel    string `yaml:"log_level"`
}

// SourceConfig holds hidraw transport settings.
type SourceConfig struct {
	HidrawGlob   string        `yaml:"hidraw_glob"`
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// ProgramConfig names one filter program to load from a compiled BPF
// object and attach to matching devices at adoption time.
type ProgramConfig struct {
	// Object is the path of the compiled BPF object file.
	Object string `yaml:"object"`

	// Program is the program name within the object.
	Program string `yaml:"program"`

	// Match restricts which devices the program attaches to. An empty
	// match attaches to every adopted device.
	Match DeviceMatch `yaml:"match"`

	// InsertHead puts the program before all currently attached ones.
	InsertHead bool `yaml:"insert_head"`
}

// DeviceMatch selects devices by identity. Zero fields match anything.
type DeviceMatch struct {
	Vendor  uint16 `yaml:"vendor"`
	Product uint16 `yaml:"product"`
	Name    string `yaml:"name"`
}

// ExportersConfig holds exporter settings.
type ExportersConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	NATS       NATSConfig       `yaml:"nats"`
}

// PrometheusConfig holds Prometheus exporter settings.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NATSConfig holds NATS exporter settings.
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	Subject       string        `yaml:"subject"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// APIConfig holds the embedded control API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PerfConfig holds performance tuning parameters.
type PerfConfig struct {
	EventBusBuffer int `yaml:"event_bus_buffer"`
}

// Default returns a Config with sensible production defaults.
func Default() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		Agent: AgentConfig{
			MetricsAddr: constants.DefaultMetricsAddr,
			NodeName:    hostname,
			LogLevel:    constants.DefaultLogLevel,
		},
		Source: SourceConfig{
			HidrawGlob:   constants.DefaultHidrawGlob,
			ScanInterval: constants.DefaultScanInterval,
		},
		Exporters: ExportersConfig{
			Prometheus: PrometheusConfig{Enabled: true},
			NATS: NATSConfig{
				Enabled:       false,
				URL:           constants.NATSDefaultURL,
				Stream:        constants.NATSStream,
				Subject:       constants.NATSSubject,
				BatchSize:     constants.NATSBatchSize,
				FlushInterval: constants.NATSFlushInterval,
			},
		},
		API: APIConfig{
			Enabled: true,
			Addr:    constants.APIDefaultAddr,
		},
		Performance: PerfConfig{
			EventBusBuffer: constants.DefaultEventBusBuffer,
		},
	}
}

// Load reads a YAML config file and merges with defaults.
// If the file doesn't exist, returns defaults.
// Environment variables override: HIDFLUX_METRICS_ADDR, HIDFLUX_NODE_NAME,
// HIDFLUX_LOG_LEVEL.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults + env overrides
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides allows environment variables to override config values.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv(constants.EnvMetricsAddr); addr != "" {
		c.Agent.MetricsAddr = addr
	}
	if node := os.Getenv(constants.EnvNodeName); node != "" {
		c.Agent.NodeName = node
	}
	if level := os.Getenv(constants.EnvLogLevel); level != "" {
		c.Agent.LogLevel = level
	}
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.MetricsAddr == "" {
		errs = append(errs, "agent.metrics_addr is required")
	}
	if c.Performance.EventBusBuffer < constants.MinEventBusBuffer {
		errs = append(errs, fmt.Sprintf("performance.event_bus_buffer must be >= %d", constants.MinEventBusBuffer))
	}
	if c.Source.HidrawGlob == "" {
		errs = append(errs, "source.hidraw_glob is required")
	}
	if c.Source.ScanInterval <= 0 {
		errs = append(errs, "source.scan_interval must be > 0")
	}
	for i, p := range c.Programs {
		if p.Object == "" {
			errs = append(errs, fmt.Sprintf("programs[%d].object is required", i))
		}
		if p.Program == "" {
			errs = append(errs, fmt.Sprintf("programs[%d].program is required", i))
		}
	}
	if c.API.Enabled && c.API.Addr == "" {
		errs = append(errs, "api.addr is required when api.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Matches reports whether a device identity satisfies the match clause.
func (m DeviceMatch) Matches(vendor, product uint16, name string) bool {
	if m.Vendor != 0 && m.Vendor != vendor {
		return false
	}
	if m.Product != 0 && m.Product != product {
		return false
	}
	if m.Name != "" && !strings.Contains(name, m.Name) {
		return false
	}
	return true
}
