package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/groutine"
)

var (
	// ErrNotStarted is returned by SearchServices before Start
	ErrNotStarted = errors.New("simulator: network not started")
	// ErrUnknownProvider is returned by OpenSession for an identity no provider owns
	ErrUnknownProvider = errors.New("simulator: unknown provider")
	// ErrSessionClosed is returned by session operations after Close
	ErrSessionClosed = errors.New("simulator: session closed")
)

// Options configures a simulated network
type Options struct {
	Devices  int
	Interval time.Duration
	// Seed makes value walks reproducible; sessions derive their own seed from it
	Seed int64
}

// DefaultOptions returns two providers reporting once a second
func DefaultOptions() *Options {
	return &Options{Devices: 2, Interval: time.Second, Seed: 1}
}

// Network is a simulated WS-Discovery network. It implements both
// device.DiscoveryTransport and device.SessionBinding.
type Network struct {
	opts      Options
	providers []*Provider
	logger    *logrus.Logger

	mu       sync.Mutex
	started  bool
	sessions map[string]*Session
	opened   int64
}

// New creates a network with opts.Devices providers
func New(opts *Options, logger *logrus.Logger) *Network {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	o := *opts
	if o.Interval <= 0 {
		o.Interval = time.Second
	}

	providers := make([]*Provider, 0, o.Devices)
	for i := 0; i < o.Devices; i++ {
		providers = append(providers, NewProvider(i))
	}
	return &Network{
		opts:      o,
		providers: providers,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Providers returns the simulated providers
func (n *Network) Providers() []*Provider {
	return append([]*Provider(nil), n.providers...)
}

func (n *Network) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = true
	return nil
}

func (n *Network) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = false
	return nil
}

// SearchServices announces every provider once. Type filtering is not
// simulated; all providers are medical devices.
func (n *Network) SearchServices(ctx context.Context, types []string, handler func(device.ServiceRecord)) error {
	n.mu.Lock()
	started := n.started
	n.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	n.logger.WithFields(logrus.Fields{
		"types":     types,
		"providers": len(n.providers),
	}).Debug("Simulated probe")

	for _, p := range n.providers {
		if err := ctx.Err(); err != nil {
			return err
		}
		handler(p.record())
	}
	return nil
}

// OpenSession connects to the provider owning svc's identity
func (n *Network) OpenSession(ctx context.Context, svc device.ServiceRecord) (device.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := n.provider(svc.Identity())
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, svc.Identity())
	}

	n.mu.Lock()
	n.opened++
	s := newSession(p, n.opts.Interval, n.opts.Seed+n.opened, n.logger)
	n.sessions[p.ID] = s
	n.mu.Unlock()

	n.logger.WithField("device_id", p.ID).Debug("Simulated session opened")
	return s, nil
}

// Drop simulates the remote loss of the open session to the provider with id
func (n *Network) Drop(id string) bool {
	n.mu.Lock()
	s, ok := n.sessions[id]
	delete(n.sessions, id)
	n.mu.Unlock()
	if ok {
		s.drop()
	}
	return ok
}

func (n *Network) provider(id string) *Provider {
	for _, p := range n.providers {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Session is a simulated device session. Each subscription reports on its own
// goroutine every interval.
type Session struct {
	provider *Provider
	interval time.Duration
	values   *values
	logger   *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	lost     chan struct{}
	lostOnce sync.Once
}

func newSession(p *Provider, interval time.Duration, seed int64, logger *logrus.Logger) *Session {
	return &Session{
		provider: p,
		interval: interval,
		values:   newValues(p.metrics, seed),
		logger:   logger,
		lost:     make(chan struct{}),
	}
}

func (s *Session) Subscribe(callback func(device.RawBatch)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.cancel != nil {
		return errors.New("simulator: already subscribed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	groutine.GoRecover(ctx, "sim-report-"+s.provider.Name, s.logger, func(ctx context.Context) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.lost:
				return
			case <-ticker.C:
				callback(s.values.step(s.provider.metrics))
			}
		}
	})
	return nil
}

// Unsubscribe stops reporting and waits for the report goroutine to exit
func (s *Session) Unsubscribe() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Session) Close() error {
	if err := s.Unsubscribe(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Session) ResolveDescriptor(handle string) (*device.Descriptor, error) {
	// unknown handles resolve to no descriptor
	d, _ := s.provider.descriptor(handle)
	return d, nil
}

func (s *Session) Info() device.DeviceInfo       { return s.provider.Info }
func (s *Session) Location() device.LocationInfo { return s.provider.Location }
func (s *Session) Disconnected() <-chan struct{} { return s.lost }
func (s *Session) Handles() []string             { return s.provider.Handles() }

func (s *Session) drop() {
	s.lostOnce.Do(func() { close(s.lost) })
}
