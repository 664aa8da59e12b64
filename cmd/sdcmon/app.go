package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/sdcmon/discovery"
	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/simulator"
	"github.com/srg/sdcmon/pkg/config"
)

// loadConfig reads --config, falling back to defaults
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// setup loads the config and builds the logger shared by every command
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newNetwork creates the simulated provider network described by cfg
func newNetwork(cfg *config.Config, logger *logrus.Logger) *simulator.Network {
	return simulator.New(&simulator.Options{
		Devices:  cfg.Simulator.Devices,
		Interval: cfg.Simulator.Interval,
		Seed:     1,
	}, logger)
}

func discoveryOptions(cfg *config.Config) *discovery.Options {
	return &discovery.Options{
		Types:          cfg.Discovery.Types,
		SearchTimeout:  cfg.Discovery.SearchTimeout,
		ResolveTimeout: cfg.Discovery.ResolveTimeout,
	}
}

// matchDevice finds the record referenced by ref: the full endpoint
// reference, a unique ID prefix (with or without "urn:uuid:") or a name
func matchDevice(records []device.DeviceRecord, ref string) (device.DeviceRecord, error) {
	ref = strings.TrimSpace(ref)
	for _, r := range records {
		if r.ID == ref {
			return r, nil
		}
	}

	bare := strings.TrimSuffix(strings.TrimPrefix(ref, "urn:uuid:"), "...")
	var matches []device.DeviceRecord
	for _, r := range records {
		id := strings.TrimPrefix(r.ID, "urn:uuid:")
		if (bare != "" && strings.HasPrefix(id, bare)) ||
			strings.EqualFold(r.Name, ref) || strings.EqualFold(r.DisplayName(), ref) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return device.DeviceRecord{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return device.DeviceRecord{}, fmt.Errorf("%w: %s matches %d devices", ErrAmbiguousDevice, ref, len(matches))
	}
}
