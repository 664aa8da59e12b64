package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel  string          `yaml:"log_level" default:"info"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Simulator SimulatorConfig `yaml:"simulator"`
	// MetricNames overrides display names by metric handle
	MetricNames map[string]string `yaml:"metric_names"`
}

type DiscoveryConfig struct {
	Types          []string      `yaml:"types"`
	SearchTimeout  time.Duration `yaml:"search_timeout" default:"10s"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout" default:"5s"`
}

type PipelineConfig struct {
	HistoryCapacity int `yaml:"history_capacity" default:"100"`
	QueueSize       int `yaml:"queue_size" default:"128"`
}

type MetricsConfig struct {
	// Listen is the Prometheus listen address; empty disables the endpoint
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	// Broker is the MQTT broker URL; empty disables forwarding
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id" default:"sdcmon"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix" default:"sdc"`
	QoS         byte   `yaml:"qos" default:"0"`
}

type SimulatorConfig struct {
	Devices  int           `yaml:"devices" default:"2"`
	Interval time.Duration `yaml:"interval" default:"1s"`
}

// DefaultDiscoveryTypes are the WS-Discovery types probed when none are configured
var DefaultDiscoveryTypes = []string{"dpws:Device", "mdpws:MedicalDevice"}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Discovery.Types = append([]string(nil), DefaultDiscoveryTypes...)
	return cfg
}

// Load reads the YAML file at path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if len(cfg.Discovery.Types) == 0 {
		cfg.Discovery.Types = append([]string(nil), DefaultDiscoveryTypes...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Discovery.SearchTimeout <= 0 {
		errs = append(errs, errors.New("discovery.search_timeout must be > 0"))
	}
	if c.Discovery.ResolveTimeout <= 0 {
		errs = append(errs, errors.New("discovery.resolve_timeout must be > 0"))
	}
	if c.Pipeline.HistoryCapacity <= 0 {
		errs = append(errs, errors.New("pipeline.history_capacity must be > 0"))
	}
	if c.Pipeline.QueueSize <= 0 {
		errs = append(errs, errors.New("pipeline.queue_size must be > 0"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.MQTT.Broker != "" && strings.TrimSpace(c.MQTT.ClientID) == "" {
		errs = append(errs, errors.New("mqtt.client_id is required when mqtt.broker is set"))
	}
	if c.Simulator.Devices < 0 {
		errs = append(errs, errors.New("simulator.devices must be >= 0"))
	}
	if c.Simulator.Interval <= 0 {
		errs = append(errs, errors.New("simulator.interval must be > 0"))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
