// Package connection owns the connect/disconnect lifecycle of one SDC device.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/groutine"
	"github.com/srg/sdcmon/internal/ringchan"
)

// DefaultQueueSize is the number of raw batches buffered per session
const DefaultQueueSize = 128

// Locator re-resolves a live advertisement for a device identity
type Locator func(ctx context.Context, id string) (device.ServiceRecord, error)

// Recorder receives connection instrumentation events
type Recorder interface {
	StatusChanged(from, to device.Status)
	BatchDropped()
}

type nopRecorder struct{}

func (nopRecorder) StatusChanged(device.Status, device.Status) {}
func (nopRecorder) BatchDropped()                              {}

// Options configures a Manager
type Options struct {
	Locator Locator
	Binding device.SessionBinding

	// OnBatch is called serially on the session worker for every delivered batch
	OnBatch func(batch device.RawBatch, resolve device.DescriptorResolver)
	// OnStatusChange is called after every status transition
	OnStatusChange func(from, to device.Status)
	// OnError is called for every connection failure, including session loss
	OnError func(err error)

	QueueSize int
	Recorder  Recorder
}

var (
	errNoLocator = errors.New("connection: locator is required")
	errNoBinding = errors.New("connection: binding is required")
)

// Manager drives the status state machine of a single device.
// At most one connection attempt or session exists at a time.
type Manager struct {
	opts   Options
	logger *logrus.Logger
	fsm    *device.StateMachine

	mu  sync.Mutex
	gen uint64
	run *sessionRun
	// attempt is closed once the most recent establish has returned
	attempt <-chan struct{}
}

// sessionRun is one connection attempt and, once established, its session
type sessionRun struct {
	gen uint64

	attemptCtx    context.Context
	cancelAttempt context.CancelFunc
	attemptDone   chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc

	session device.Session
	queue   *ringchan.RingChannel[device.RawBatch]

	// active gates delivery; deliverMu is held for the whole of one batch
	active    atomic.Bool
	deliverMu sync.Mutex

	workerGID  atomic.Uint64
	started    bool
	subscribed bool
	done       chan struct{}

	// tearing and tornDown are guarded by Manager.mu
	tearing  bool
	tornDown chan struct{}
}

type statusChange struct {
	from, to device.Status
}

// New creates a manager for record. Status starts as Discovered.
func New(record device.DeviceRecord, opts Options, logger *logrus.Logger) (*Manager, error) {
	if opts.Locator == nil {
		return nil, errNoLocator
	}
	if opts.Binding == nil {
		return nil, errNoBinding
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	return &Manager{
		opts:   opts,
		logger: logger,
		fsm:    device.NewStateMachine(record),
	}, nil
}

// Status returns the current status
func (m *Manager) Status() device.Status {
	return m.fsm.Status()
}

// Record returns a snapshot of the managed device
func (m *Manager) Record() device.DeviceRecord {
	return m.fsm.Snapshot()
}

func (m *Manager) deviceID() string {
	return m.fsm.Snapshot().ID
}

// transitionLocked must be called with m.mu held
func (m *Manager) transitionLocked(to device.Status) (statusChange, bool) {
	from, err := m.fsm.Transition(to)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"device_id": m.deviceID(),
			"status":    from.String(),
			"error":     err,
		}).Debug("Status transition rejected")
		return statusChange{}, false
	}
	m.logger.WithFields(logrus.Fields{
		"device_id": m.deviceID(),
		"from":      from.String(),
		"status":    to.String(),
	}).Debug("Status changed")
	return statusChange{from: from, to: to}, true
}

func (m *Manager) emit(c statusChange, ok bool) {
	if !ok {
		return
	}
	m.opts.Recorder.StatusChanged(c.from, c.to)
	if m.opts.OnStatusChange != nil {
		m.opts.OnStatusChange(c.from, c.to)
	}
}

func (m *Manager) report(err error) {
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}

// Connect locates the device, opens a session and subscribes to its updates.
// It is rejected while a previous attempt is in progress or a session is live.
// A Disconnect during the attempt aborts it.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.fsm.Status() {
	case device.StatusConnecting:
		m.mu.Unlock()
		return &device.ConnectionError{Kind: device.InProgress, DeviceID: m.deviceID()}
	case device.StatusConnected:
		m.mu.Unlock()
		return &device.ConnectionError{Kind: device.AlreadyConnected, DeviceID: m.deviceID()}
	}

	m.gen++
	run := &sessionRun{
		gen:         m.gen,
		queue:       ringchan.New[device.RawBatch](m.opts.QueueSize),
		attemptDone: make(chan struct{}),
		done:        make(chan struct{}),
		tornDown:    make(chan struct{}),
	}
	run.attemptCtx, run.cancelAttempt = context.WithCancel(ctx)
	run.ctx, run.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.run = run
	prev := m.attempt
	m.attempt = run.attemptDone
	change, ok := m.transitionLocked(device.StatusConnecting)
	m.mu.Unlock()
	m.emit(change, ok)

	err := m.establish(run, prev)
	run.cancelAttempt()
	close(run.attemptDone)
	if err != nil && !device.IsConnectionKind(err, device.Aborted) {
		m.report(err)
	}
	return err
}

// establish runs one attempt. An aborted attempt may still be inside the
// binding, so it first waits for prev to return.
func (m *Manager) establish(run *sessionRun, prev <-chan struct{}) error {
	id := m.deviceID()
	log := m.logger.WithField("device_id", id)

	if prev != nil {
		select {
		case <-prev:
		case <-run.attemptCtx.Done():
			return m.fail(run, device.SessionFailure, run.attemptCtx.Err())
		}
	}

	log.Info("Connecting to device...")

	svc, err := m.opts.Locator(run.attemptCtx, id)
	if err != nil || svc == nil {
		if err == nil {
			err = errors.New("no live advertisement")
		}
		return m.fail(run, device.ServiceNotFound, err)
	}

	session, err := m.opts.Binding.OpenSession(run.attemptCtx, svc)
	if err != nil {
		return m.fail(run, device.SessionFailure, err)
	}
	if session == nil {
		return m.fail(run, device.SessionFailure, errors.New("binding returned no session"))
	}

	m.mu.Lock()
	if m.gen != run.gen {
		m.mu.Unlock()
		return m.abandon(session)
	}
	run.session = session
	m.mu.Unlock()

	var info device.DeviceInfo
	if p, ok := session.(device.InfoProvider); ok {
		info = p.Info()
	}
	var location device.LocationInfo
	if p, ok := session.(device.LocationProvider); ok {
		location = p.Location()
	}
	m.fsm.Enrich(info, location)

	m.mu.Lock()
	if m.gen != run.gen {
		m.mu.Unlock()
		return m.abandon(session)
	}
	run.active.Store(true)
	m.mu.Unlock()

	run.started = true
	groutine.GoRecover(run.ctx, "session-worker", m.logger, func(ctx context.Context) {
		m.work(ctx, run)
	})

	if err := session.Subscribe(func(batch device.RawBatch) { m.enqueue(run, batch) }); err != nil {
		return m.fail(run, device.SubscriptionFailure, err)
	}
	run.subscribed = true

	m.mu.Lock()
	if m.gen != run.gen {
		m.mu.Unlock()
		m.teardown(run, false)
		return &device.ConnectionError{Kind: device.Aborted, DeviceID: id}
	}
	change, ok := m.transitionLocked(device.StatusConnected)
	m.mu.Unlock()
	m.emit(change, ok)

	if n, ok := session.(device.DisconnectNotifier); ok {
		groutine.GoRecover(run.ctx, "session-watcher", m.logger, func(ctx context.Context) {
			m.watch(ctx, run, n.Disconnected())
		})
	}

	log.WithField("name", m.fsm.Snapshot().DisplayName()).Info("Device connected")
	return nil
}

// abandon closes a session opened by an attempt a Disconnect already took over
func (m *Manager) abandon(session device.Session) error {
	id := m.deviceID()
	if err := session.Close(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device_id": id,
			"error":     err,
		}).Warn("Failed to close session of aborted attempt")
	}
	return &device.ConnectionError{Kind: device.Aborted, DeviceID: id}
}

// fail tears down whatever the attempt opened and moves to Error,
// unless a Disconnect already took over the attempt
func (m *Manager) fail(run *sessionRun, kind device.ConnectionErrorKind, cause error) error {
	id := m.deviceID()
	m.teardown(run, false)

	m.mu.Lock()
	if m.gen != run.gen {
		m.mu.Unlock()
		return &device.ConnectionError{Kind: device.Aborted, DeviceID: id, Err: cause}
	}
	m.run = nil
	change, ok := m.transitionLocked(device.StatusError)
	m.mu.Unlock()
	m.emit(change, ok)

	m.logger.WithFields(logrus.Fields{
		"device_id": id,
		"kind":      string(kind),
		"error":     cause,
	}).Error("Connection failed")
	return &device.ConnectionError{Kind: kind, DeviceID: id, Err: cause}
}

// enqueue runs on binding goroutines and never blocks
func (m *Manager) enqueue(run *sessionRun, batch device.RawBatch) {
	if !run.active.Load() {
		return
	}
	if run.queue.Send(batch) {
		m.opts.Recorder.BatchDropped()
		m.logger.WithFields(logrus.Fields{
			"device_id":   m.deviceID(),
			"overwritten": run.queue.Metrics().Overwritten,
		}).Warn("Update queue full, oldest batch dropped")
	}
}

func (m *Manager) work(ctx context.Context, run *sessionRun) {
	defer close(run.done)
	run.workerGID.Store(groutine.GetGID())

	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-run.queue.C():
			m.deliver(run, batch)
		}
	}
}

func (m *Manager) deliver(run *sessionRun, batch device.RawBatch) {
	run.deliverMu.Lock()
	defer run.deliverMu.Unlock()
	defer run.queue.MarkProcessed()

	if !run.active.Load() || m.opts.OnBatch == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"device_id": m.deviceID(),
				"panic":     r,
			}).Error("Batch handler panicked")
		}
	}()
	m.opts.OnBatch(batch, run.session.ResolveDescriptor)
}

func (m *Manager) watch(ctx context.Context, run *sessionRun, lost <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-lost:
	}

	m.mu.Lock()
	if m.run != run || run.tearing || m.fsm.Status() != device.StatusConnected {
		m.mu.Unlock()
		return
	}
	run.tearing = true
	m.mu.Unlock()

	id := m.deviceID()
	m.logger.WithField("device_id", id).Warn("Device session lost")
	m.teardown(run, false)

	m.mu.Lock()
	m.run = nil
	m.gen++
	change, ok := m.transitionLocked(device.StatusError)
	m.mu.Unlock()
	close(run.tornDown)
	m.emit(change, ok)

	m.report(&device.ConnectionError{Kind: device.SessionLost, DeviceID: id})
}

// teardown stops delivery, unsubscribes, stops the worker and closes the session.
// onWorker is set when called from the worker itself, which cannot wait for itself.
func (m *Manager) teardown(run *sessionRun, onWorker bool) error {
	run.active.Store(false)
	if !onWorker {
		// wait for an in-flight batch
		run.deliverMu.Lock()
		run.deliverMu.Unlock() //nolint:staticcheck // barrier
	}

	var errs []error
	if run.subscribed {
		if err := run.session.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
	}

	run.cancelAttempt()
	run.cancel()
	if run.started && !onWorker {
		<-run.done
	}
	run.queue.Drain()

	if run.session != nil {
		if err := run.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"device_id": m.deviceID(),
			"error":     err,
		}).Warn("Session teardown reported errors")
	}
	return err
}

// Handles lists the metric handles of the live session. It is empty unless
// connected or when the session cannot enumerate its handles.
func (m *Manager) Handles() []string {
	m.mu.Lock()
	run := m.run
	connected := m.fsm.Status() == device.StatusConnected
	m.mu.Unlock()

	if !connected || run == nil || run.session == nil {
		return nil
	}
	if l, ok := run.session.(device.HandleLister); ok {
		return l.Handles()
	}
	return nil
}

// Capabilities summarizes the connected device. ok is false unless connected.
func (m *Manager) Capabilities() (device.Capabilities, bool) {
	if m.Status() != device.StatusConnected {
		return device.Capabilities{}, false
	}
	return m.Record().Capabilities(m.Handles()), true
}

// Disconnect ends the session. It is a no-op when no session exists.
// When connected it unsubscribes and waits for in-flight delivery before the
// status becomes Disconnected. A Disconnect during Connect aborts the attempt.
// Teardown errors are returned but the status still becomes Disconnected.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	run := m.run

	switch m.fsm.Status() {
	case device.StatusConnecting:
		m.gen++
		m.run = nil
		m.mu.Unlock()

		if run != nil {
			run.cancelAttempt()
			run.active.Store(false)
			if groutine.GetGID() != run.workerGID.Load() {
				run.deliverMu.Lock()
				run.deliverMu.Unlock() //nolint:staticcheck // barrier
			}
		}

		m.mu.Lock()
		change, ok := m.transitionLocked(device.StatusDisconnected)
		m.mu.Unlock()
		m.emit(change, ok)
		m.logger.WithField("device_id", m.deviceID()).Info("Connection attempt cancelled")
		return nil

	case device.StatusConnected:
		if run == nil {
			m.mu.Unlock()
			return nil
		}
		onWorker := run.started && groutine.GetGID() == run.workerGID.Load()
		if run.tearing {
			m.mu.Unlock()
			if !onWorker {
				<-run.tornDown
			}
			return nil
		}
		run.tearing = true
		m.mu.Unlock()

		err := m.teardown(run, onWorker)

		m.mu.Lock()
		if m.run == run {
			m.run = nil
		}
		m.gen++
		change, ok := m.transitionLocked(device.StatusDisconnected)
		m.mu.Unlock()
		close(run.tornDown)
		m.emit(change, ok)

		m.logger.WithField("device_id", m.deviceID()).Info("Device disconnected")
		if err != nil {
			err = &device.ConnectionError{Kind: device.SessionFailure, DeviceID: m.deviceID(), Err: err}
			m.report(err)
		}
		return err

	default:
		m.mu.Unlock()
		return nil
	}
}
