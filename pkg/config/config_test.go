package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sdcmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"dpws:Device", "mdpws:MedicalDevice"}, cfg.Discovery.Types)
	assert.Equal(t, 10*time.Second, cfg.Discovery.SearchTimeout)
	assert.Equal(t, 5*time.Second, cfg.Discovery.ResolveTimeout)
	assert.Equal(t, 100, cfg.Pipeline.HistoryCapacity)
	assert.Equal(t, 128, cfg.Pipeline.QueueSize)
	assert.Empty(t, cfg.Metrics.Listen)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.Equal(t, "sdcmon", cfg.MQTT.ClientID)
	assert.Equal(t, "sdc", cfg.MQTT.TopicPrefix)
	assert.Zero(t, cfg.MQTT.QoS)
	assert.Equal(t, 2, cfg.Simulator.Devices)
	assert.Equal(t, time.Second, cfg.Simulator.Interval)
	assert.NoError(t, cfg.Validate(), "defaults MUST validate")
}

func TestDefaultConfigDoesNotShareTypes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discovery.Types[0] = "changed"

	assert.Equal(t, "dpws:Device", DefaultConfig().Discovery.Types[0], "defaults MUST not be shared between configs")
}

func TestLoad(t *testing.T) {
	// GOAL: Verify a YAML file overrides only the keys it sets
	//
	// TEST SCENARIO: Write partial config → Load → overridden keys change, others keep defaults

	path := writeConfig(t, `
log_level: debug
discovery:
  search_timeout: 3s
pipeline:
  history_capacity: 20
mqtt:
  broker: tcp://localhost:1883
  qos: 1
metric_names:
  metric.cvp: Central Venous Pressure
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.Discovery.SearchTimeout)
	assert.Equal(t, 5*time.Second, cfg.Discovery.ResolveTimeout, "unset keys MUST keep defaults")
	assert.Equal(t, []string{"dpws:Device", "mdpws:MedicalDevice"}, cfg.Discovery.Types)
	assert.Equal(t, 20, cfg.Pipeline.HistoryCapacity)
	assert.Equal(t, 128, cfg.Pipeline.QueueSize)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "Central Venous Pressure", cfg.MetricNames["metric.cvp"])
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing bool
		wantErr string
	}{
		{name: "missing file", missing: true, wantErr: "failed to read config"},
		{name: "malformed yaml", content: "log_level: [", wantErr: "failed to parse config"},
		{name: "bad level", content: "log_level: loud", wantErr: "log_level"},
		{name: "zero capacity", content: "pipeline:\n  history_capacity: 0", wantErr: "pipeline.history_capacity"},
		{name: "bad qos", content: "mqtt:\n  qos: 3", wantErr: "mqtt.qos"},
		{name: "negative devices", content: "simulator:\n  devices: -1", wantErr: "simulator.devices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.yaml")
			if !tt.missing {
				path = writeConfig(t, tt.content)
			}

			cfg, err := Load(path)

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discovery.SearchTimeout = 0
	cfg.Pipeline.QueueSize = 0
	cfg.MQTT.Broker = "tcp://broker:1883"
	cfg.MQTT.ClientID = " "

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery.search_timeout")
	assert.Contains(t, err.Error(), "pipeline.queue_size")
	assert.Contains(t, err.Error(), "mqtt.client_id")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "falls back to info on unknown level",
			logLevel: "chatty",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
