package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/sdcmon/discovery"
	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/display"
	"github.com/srg/sdcmon/internal/forward"
	"github.com/srg/sdcmon/internal/groutine"
	"github.com/srg/sdcmon/internal/telemetry"
	"github.com/srg/sdcmon/orchestrator"
	"github.com/srg/sdcmon/pipeline"
	"github.com/srg/sdcmon/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device>",
	Short: "Stream live vitals from an SDC device",
	Long: `Search for SDC devices, connect to the referenced one and show its metric
updates until interrupted.

The device can be referenced by its endpoint reference, a unique prefix of
its UUID (as printed by 'sdcmon scan') or its name.

Monitor telemetry can be exposed to Prometheus with --metrics-addr and every
metric batch can be forwarded to an MQTT broker with --mqtt-broker.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorDuration    time.Duration
	monitorRefresh     time.Duration
	monitorMetricsAddr string
	monitorMQTTBroker  string
)

func init() {
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
	monitorCmd.Flags().DurationVar(&monitorRefresh, "refresh", 500*time.Millisecond, "Screen refresh interval")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.listen)")
	monitorCmd.Flags().StringVar(&monitorMQTTBroker, "mqtt-broker", "", "Forward metrics to this MQTT broker (overrides mqtt.broker)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorRefresh <= 0 {
		return fmt.Errorf("invalid refresh interval %s: must be > 0", monitorRefresh)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if monitorMetricsAddr != "" {
		cfg.Metrics.Listen = monitorMetricsAddr
	}
	if monitorMQTTBroker != "" {
		cfg.MQTT.Broker = monitorMQTTBroker
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}
	ctx, cancelCause := context.WithCancelCause(ctx)
	defer cancelCause(nil)

	m, err := newMonitor(cfg, logger, cancelCause)
	if err != nil {
		return err
	}
	defer m.close()

	if cfg.Metrics.Listen != "" {
		if err := m.serveMetrics(cfg.Metrics.Listen); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	records, err := m.orch.Search(ctx, cfg.Discovery.SearchTimeout)
	if err != nil {
		return err
	}
	target, err := matchDevice(records, args[0])
	if err != nil {
		return err
	}

	if err := m.orch.Select(ctx, target.ID); err != nil {
		return err
	}

	view := newVitalsView(out)
	err = m.collector.Run(ctx, monitorRefresh, func(map[string]pipeline.Sample) {
		record, ok := m.orch.Active()
		if !ok {
			return
		}
		view.render(record, m.orch.Pipeline(), m.collector.GetMetrics().FramesOverwritten)
	})
	if err != nil {
		return err
	}

	// capture before disconnect clears the histories
	record, active := m.orch.Active()
	lines := summaryLines(m.orch.Pipeline())
	if active {
		fmt.Fprintln(out)
		printSummary(out, record, lines)
	}

	// interrupt and --duration end the run normally
	if cause := context.Cause(ctx); errors.Is(cause, ErrSessionEnded) {
		return cause
	}
	return nil
}

// monitor wires the orchestrator to its observers for one monitor run
type monitor struct {
	orch      *orchestrator.Orchestrator
	collector *display.Collector
	forwarder *forward.Forwarder
	mqtt      interface{ Disconnect(quiesce uint) }
	registry  *prometheus.Registry
	server    *http.Server
	addr      string
	logger    *logrus.Logger
}

func newMonitor(cfg *config.Config, logger *logrus.Logger, cancel context.CancelCauseFunc) (*monitor, error) {
	registry := prometheus.NewRegistry()
	recorder, err := telemetry.New(registry)
	if err != nil {
		return nil, err
	}

	collector, err := display.NewCollector(64)
	if err != nil {
		return nil, err
	}

	m := &monitor{collector: collector, registry: registry, logger: logger}

	if cfg.MQTT.Broker != "" {
		fcfg := forward.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}
		client, err := forward.Dial(fcfg)
		if err != nil {
			return nil, err
		}
		m.mqtt = client
		m.forwarder = forward.NewForwarder(client, fcfg, logger)
	}

	network := newNetwork(cfg, logger)
	callbacks := orchestrator.Callbacks{
		OnDeviceError: func(err error) {
			logger.WithError(err).Debug("Device error")
			if device.IsConnectionKind(err, device.SessionLost) {
				cancel(fmt.Errorf("%w: %w", ErrSessionEnded, err))
			}
		},
		OnConnected: func(record device.DeviceRecord) {
			logger.WithField("device_id", record.ID).Info("Connected")
			if caps, ok := m.orch.Capabilities(); ok {
				logger.WithFields(logrus.Fields{
					"device_id":    record.ID,
					"metrics":      caps.Metrics,
					"has_location": caps.HasLocation,
					"model":        caps.Model,
					"firmware":     caps.Firmware,
				}).Debug("Device capabilities")
			}
			if m.forwarder != nil {
				m.forwarder.SetDevice(&record)
			}
		},
		OnDisconnected: func(record device.DeviceRecord) {
			logger.WithField("device_id", record.ID).Info("Disconnected")
			if m.forwarder != nil {
				m.forwarder.SetDevice(nil)
			}
		},
		OnStatusChange: func(record device.DeviceRecord, from, to device.Status) {
			logger.WithFields(logrus.Fields{
				"device_id": record.ID,
				"from":      from,
				"status":    to,
			}).Debug("Status changed")
		},
	}

	m.orch = orchestrator.New(
		discovery.New(network, discoveryOptions(cfg), logger),
		network,
		callbacks,
		&orchestrator.Options{
			Pipeline: pipeline.Options{
				HistoryCapacity: cfg.Pipeline.HistoryCapacity,
				Names:           cfg.MetricNames,
				Recorder:        recorder,
			},
			QueueSize: cfg.Pipeline.QueueSize,
			Recorder:  recorder,
		},
		logger,
	)
	m.orch.Pipeline().Subscribe(collector.Observe)
	if m.forwarder != nil {
		m.forwarder.Start(context.Background())
		m.orch.Pipeline().Subscribe(m.forwarder.Observe)
	}

	if err := m.orch.Start(); err != nil {
		m.close()
		return nil, err
	}
	return m, nil
}

// serveMetrics exposes the telemetry registry on addr until close
func (m *monitor) serveMetrics(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	groutine.GoRecover(context.Background(), "metrics-server", m.logger, func(ctx context.Context) {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.WithError(err).Error("Metrics server failed")
		}
	})
	m.addr = listener.Addr().String()
	m.logger.WithField("addr", m.addr).Info("Serving metrics")
	return nil
}

func (m *monitor) close() {
	if err := m.orch.Close(); err != nil {
		m.logger.WithError(err).Warn("Shutdown was not clean")
	}
	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.server.Shutdown(ctx)
	}
	if m.forwarder != nil {
		m.forwarder.Close()
	}
	if m.mqtt != nil {
		m.mqtt.Disconnect(250)
	}
}
