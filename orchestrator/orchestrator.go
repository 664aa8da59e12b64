// Package orchestrator composes discovery, connection and the metric
// pipeline behind a single callback surface for a presentation layer.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/sdcmon/connection"
	"github.com/srg/sdcmon/discovery"
	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/groutine"
	"github.com/srg/sdcmon/pipeline"
)

// Callbacks is the presentation surface. Nil callbacks are skipped.
// Callbacks may be invoked from internal goroutines.
type Callbacks struct {
	OnDevicesFound   func(records []device.DeviceRecord)
	OnDeviceError    func(err error)
	OnConnected      func(record device.DeviceRecord)
	OnDisconnected   func(record device.DeviceRecord)
	OnMetricsUpdated func(samples []pipeline.Sample)
	// OnStatusChange reports every status transition of the active device
	OnStatusChange func(record device.DeviceRecord, from, to device.Status)
}

// Options configures an Orchestrator
type Options struct {
	Pipeline pipeline.Options
	// QueueSize bounds the per-session update queue
	QueueSize int
	// Recorder receives connection instrumentation events
	Recorder connection.Recorder
}

// Orchestrator holds at most one active device session
type Orchestrator struct {
	discovery *discovery.Session
	binding   device.SessionBinding
	pipeline  *pipeline.Pipeline
	callbacks Callbacks
	opts      Options
	logger    *logrus.Logger

	observer pipeline.SubscriptionID

	mu     sync.Mutex
	active *activeSession
}

type activeSession struct {
	manager *connection.Manager

	mu        sync.Mutex
	connected bool
	ended     bool
}

// New creates an orchestrator. Nil options use defaults.
func New(disc *discovery.Session, binding device.SessionBinding, callbacks Callbacks, opts *Options, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &Options{Pipeline: pipeline.DefaultOptions()}
	}

	o := &Orchestrator{
		discovery: disc,
		binding:   binding,
		pipeline:  pipeline.New(opts.Pipeline, logger),
		callbacks: callbacks,
		opts:      *opts,
		logger:    logger,
	}
	o.observer = o.pipeline.Subscribe(func(samples []pipeline.Sample) error {
		if o.callbacks.OnMetricsUpdated != nil {
			o.callbacks.OnMetricsUpdated(samples)
		}
		return nil
	})
	return o
}

// Pipeline gives read access to metric histories and observer registration
func (o *Orchestrator) Pipeline() *pipeline.Pipeline {
	return o.pipeline
}

// Start starts discovery
func (o *Orchestrator) Start() error {
	return o.discovery.Start()
}

// Stop stops discovery
func (o *Orchestrator) Stop() error {
	return o.discovery.Stop()
}

func (o *Orchestrator) reportError(err error) {
	if o.callbacks.OnDeviceError != nil {
		o.callbacks.OnDeviceError(err)
	}
}

// Search runs a bounded search and reports the result through OnDevicesFound
// or OnDeviceError. It blocks; use SearchAsync from responsive paths.
func (o *Orchestrator) Search(ctx context.Context, timeout time.Duration) ([]device.DeviceRecord, error) {
	records, err := o.discovery.Search(ctx, timeout)
	if err != nil {
		o.logger.WithError(err).Warn("Device search failed")
		o.reportError(err)
		return nil, err
	}
	if o.callbacks.OnDevicesFound != nil {
		o.callbacks.OnDevicesFound(records)
	}
	return records, nil
}

// SearchAsync starts Search on its own goroutine and returns immediately
func (o *Orchestrator) SearchAsync(ctx context.Context, timeout time.Duration) {
	groutine.GoRecover(ctx, "device-search", o.logger, func(ctx context.Context) {
		_, _ = o.Search(ctx, timeout)
	})
}

// Select connects to the discovered device id. Any active session is
// disconnected and its history cleared first.
func (o *Orchestrator) Select(ctx context.Context, id string) error {
	record, ok := o.discovery.Device(id)
	if !ok {
		err := &device.ConnectionError{Kind: device.ServiceNotFound, DeviceID: id}
		o.reportError(err)
		return err
	}

	sess := &activeSession{}
	manager, err := connection.New(record, connection.Options{
		Locator: o.discovery.Resolve,
		Binding: o.binding,
		OnBatch: func(batch device.RawBatch, resolve device.DescriptorResolver) {
			o.pipeline.ProcessUpdate(batch, resolve)
		},
		OnStatusChange: func(from, to device.Status) {
			if o.callbacks.OnStatusChange != nil {
				o.callbacks.OnStatusChange(sess.manager.Record(), from, to)
			}
		},
		OnError: func(err error) {
			o.reportError(err)
			if device.IsConnectionKind(err, device.SessionLost) {
				o.release(sess)
				_ = o.end(sess)
			}
		},
		QueueSize: o.opts.QueueSize,
		Recorder:  o.opts.Recorder,
	}, o.logger)
	if err != nil {
		o.reportError(err)
		return err
	}
	sess.manager = manager

	o.mu.Lock()
	prev := o.active
	o.active = sess
	o.mu.Unlock()

	if prev != nil {
		if err := o.end(prev); err != nil {
			o.logger.WithError(err).Warn("Previous session did not disconnect cleanly")
		}
	}

	if err := manager.Connect(ctx); err != nil {
		o.release(sess)
		return err
	}

	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return &device.ConnectionError{Kind: device.Aborted, DeviceID: id}
	}
	sess.connected = true
	sess.mu.Unlock()

	if o.callbacks.OnConnected != nil {
		o.callbacks.OnConnected(manager.Record())
	}
	return nil
}

// release forgets sess if it is still the active session
func (o *Orchestrator) release(sess *activeSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == sess {
		o.active = nil
	}
}

// end disconnects sess, clears the histories and fires OnDisconnected once
// for a session that was connected
func (o *Orchestrator) end(sess *activeSession) error {
	err := sess.manager.Disconnect()
	o.pipeline.Clear()

	sess.mu.Lock()
	notify := sess.connected && !sess.ended
	sess.ended = true
	sess.mu.Unlock()

	if notify && o.callbacks.OnDisconnected != nil {
		o.callbacks.OnDisconnected(sess.manager.Record())
	}
	return err
}

// Disconnect ends the active session and clears the metric histories.
// It is a no-op without an active session.
func (o *Orchestrator) Disconnect() error {
	o.mu.Lock()
	sess := o.active
	o.active = nil
	o.mu.Unlock()

	if sess == nil {
		return nil
	}
	return o.end(sess)
}

// Active returns the record of the active device
func (o *Orchestrator) Active() (device.DeviceRecord, bool) {
	o.mu.Lock()
	sess := o.active
	o.mu.Unlock()

	if sess == nil {
		return device.DeviceRecord{}, false
	}
	return sess.manager.Record(), true
}

// Capabilities summarizes the active device while it is connected
func (o *Orchestrator) Capabilities() (device.Capabilities, bool) {
	o.mu.Lock()
	sess := o.active
	o.mu.Unlock()

	if sess == nil {
		return device.Capabilities{}, false
	}
	return sess.manager.Capabilities()
}

// Close disconnects, stops discovery and detaches the presentation observer
func (o *Orchestrator) Close() error {
	err := errors.Join(o.Disconnect(), o.Stop())
	o.pipeline.Unsubscribe(o.observer)
	return err
}
