// Package discovery finds SDC devices through a WS-Discovery transport and
// keeps a registry of normalized device records.
package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/ringchan"
)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type   DeviceEventType
	Record device.DeviceRecord
}

// Options configures discovery behavior
type Options struct {
	// Types filters advertisements by service type
	Types []string
	// SearchTimeout is used when Search is called with a non-positive timeout
	SearchTimeout time.Duration
	// ResolveTimeout bounds the search performed by Resolve
	ResolveTimeout time.Duration
}

// DefaultOptions returns default discovery options
func DefaultOptions() *Options {
	return &Options{
		Types:          []string{"dpws:Device", "mdpws:MedicalDevice"},
		SearchTimeout:  10 * time.Second,
		ResolveTimeout: 5 * time.Second,
	}
}

// Session wraps a discovery transport
type Session struct {
	transport device.DiscoveryTransport
	opts      Options
	logger    *logrus.Logger

	mu      sync.Mutex
	started bool

	searching atomic.Bool
	devices   atomic.Pointer[hashmap.Map[string, device.DeviceRecord]]
	events    *ringchan.RingChannel[DeviceEvent]

	// now is overridable in tests
	now func() time.Time
}

// New creates a discovery session over transport. Nil options use DefaultOptions.
func New(transport device.DiscoveryTransport, opts *Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	defaults := DefaultOptions()
	if opts == nil {
		opts = defaults
	}
	o := *opts
	if len(o.Types) == 0 {
		o.Types = defaults.Types
	}
	if o.SearchTimeout <= 0 {
		o.SearchTimeout = defaults.SearchTimeout
	}
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = defaults.ResolveTimeout
	}

	s := &Session{
		transport: transport,
		opts:      o,
		logger:    logger,
		events:    ringchan.New[DeviceEvent](100),
		now:       time.Now,
	}
	s.devices.Store(hashmap.New[string, device.DeviceRecord]())
	return s
}

// Start starts the transport. Calling Start on a started session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.transport.Start(); err != nil {
		return &device.DiscoveryError{Kind: device.TransportFailure, Err: err}
	}
	s.started = true
	s.logger.Debug("Discovery transport started")
	return nil
}

// Stop stops the transport. Calling Stop on a stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	if err := s.transport.Stop(); err != nil {
		return &device.DiscoveryError{Kind: device.TransportFailure, Err: err}
	}
	s.logger.Debug("Discovery transport stopped")
	return nil
}

func (s *Session) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// IsSearching reports whether a search is running
func (s *Session) IsSearching() bool {
	return s.searching.Load()
}

// Search probes for devices for at most timeout and returns the normalized
// records sorted by display name. Expiry of the timeout or ctx is not an error:
// the records collected so far are returned. The registry keeps the previous
// result until the search completes, then is replaced by it. A failed search
// leaves the registry unchanged.
func (s *Session) Search(ctx context.Context, timeout time.Duration) ([]device.DeviceRecord, error) {
	if !s.isStarted() {
		return nil, device.ErrNotStarted
	}
	if !s.searching.CompareAndSwap(false, true) {
		return nil, device.ErrSearchInProgress
	}
	defer s.searching.Store(false)

	if timeout <= 0 {
		timeout = s.opts.SearchTimeout
	}
	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := hashmap.New[string, device.DeviceRecord]()

	s.logger.WithField("timeout", timeout).Info("Starting device search...")

	err := s.transport.SearchServices(searchCtx, s.opts.Types, func(svc device.ServiceRecord) {
		s.handleAdvertisement(found, svc)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, &device.DiscoveryError{Kind: device.TransportFailure, Err: err}
	}

	s.devices.Store(found)
	records := snapshot(found)
	s.logger.WithField("device_count", len(records)).Info("Device search completed")
	return records, nil
}

// handleAdvertisement normalizes svc and merges it into found
func (s *Session) handleAdvertisement(found *hashmap.Map[string, device.DeviceRecord], svc device.ServiceRecord) {
	record, err := device.NewRecord(svc, s.now())
	if err != nil {
		s.logger.WithError(err).Warn("Skipping malformed advertisement")
		return
	}

	event := DeviceEvent{Type: EventNew, Record: record}
	if prev, existing := found.Get(record.ID); existing {
		record.DiscoveredAt = prev.DiscoveredAt
		event = DeviceEvent{Type: EventUpdated, Record: record}
	} else {
		s.logger.WithFields(logrus.Fields{
			"device_id": record.ID,
			"name":      record.DisplayName(),
			"address":   record.NetworkAddress,
		}).Info("Discovered new device")
	}
	found.Set(record.ID, record)
	s.events.Send(event)
}

// Resolve runs a fresh bounded search and returns the live advertisement
// whose identity equals id. The search stops at the first match.
func (s *Session) Resolve(ctx context.Context, id string) (device.ServiceRecord, error) {
	if !s.isStarted() {
		return nil, device.ErrNotStarted
	}
	if !s.searching.CompareAndSwap(false, true) {
		return nil, device.ErrSearchInProgress
	}
	defer s.searching.Store(false)

	resolveCtx, cancel := context.WithTimeout(ctx, s.opts.ResolveTimeout)
	defer cancel()

	var (
		matchMu sync.Mutex
		match   device.ServiceRecord
	)
	err := s.transport.SearchServices(resolveCtx, s.opts.Types, func(svc device.ServiceRecord) {
		if svc == nil || svc.Identity() != id {
			return
		}
		matchMu.Lock()
		if match == nil {
			match = svc
		}
		matchMu.Unlock()
		cancel()
	})

	matchMu.Lock()
	defer matchMu.Unlock()

	if match != nil {
		s.logger.WithField("device_id", id).Debug("Resolved live service")
		return match, nil
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, &device.DiscoveryError{Kind: device.TransportFailure, Err: err}
	}
	return nil, &device.ConnectionError{Kind: device.ServiceNotFound, DeviceID: id}
}

// Device returns the record with the given id from the last search
func (s *Session) Device(id string) (device.DeviceRecord, bool) {
	return s.devices.Load().Get(id)
}

// Devices returns the records from the last search, sorted
func (s *Session) Devices() []device.DeviceRecord {
	return snapshot(s.devices.Load())
}

// Events return a read-only channel of device events
func (s *Session) Events() <-chan DeviceEvent {
	return s.events.C()
}

func snapshot(m *hashmap.Map[string, device.DeviceRecord]) []device.DeviceRecord {
	out := make([]device.DeviceRecord, 0, m.Len())
	m.Range(func(_ string, rec device.DeviceRecord) bool {
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].DisplayName(), out[j].DisplayName()
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
