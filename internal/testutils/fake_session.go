package testutils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/srg/sdcmon/internal/device"
)

// ErrNotSubscribed is returned by FakeSession.Emit without an active subscription
var ErrNotSubscribed = errors.New("fake session: not subscribed")

// FakeSession is a scripted device.Session that also implements the optional
// info, location and disconnect notification interfaces
type FakeSession struct {
	mu          sync.Mutex
	callback    func(device.RawBatch)
	last        func(device.RawBatch)
	descriptors map[string]*device.Descriptor
	info        device.DeviceInfo
	location    device.LocationInfo
	handles     []string
	infoGate    chan struct{}
	infoEntered chan struct{}
	onSubscribe []device.RawBatch

	SubscribeErr   error
	UnsubscribeErr error
	CloseErr       error

	Subscribes   atomic.Int32
	Unsubscribes atomic.Int32
	Closes       atomic.Int32

	lost     chan struct{}
	lostOnce sync.Once
}

func NewFakeSession() *FakeSession {
	return &FakeSession{
		descriptors: make(map[string]*device.Descriptor),
		infoEntered: make(chan struct{}, 16),
		lost:        make(chan struct{}),
	}
}

// WithDescriptor registers a descriptor answered by ResolveDescriptor
func (s *FakeSession) WithDescriptor(handle, name, unit string) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors[handle] = &device.Descriptor{Handle: handle, Name: name, Unit: unit}
	s.handles = append(s.handles, handle)
	return s
}

// WithInfo sets the DPWS metadata exposed by Info
func (s *FakeSession) WithInfo(info device.DeviceInfo) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	return s
}

// WithLocation sets the location exposed by Location
func (s *FakeSession) WithLocation(loc device.LocationInfo) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = loc
	return s
}

// EmitOnSubscribe makes Subscribe deliver batches through the new callback
// before it returns, like a binding that reports the current state at once
func (s *FakeSession) EmitOnSubscribe(batches ...device.RawBatch) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSubscribe = batches
	return s
}

// HoldInfo makes later Info calls block until ReleaseInfo
func (s *FakeSession) HoldInfo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoGate = make(chan struct{})
}

// ReleaseInfo unblocks Info calls waiting because of HoldInfo
func (s *FakeSession) ReleaseInfo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.infoGate != nil {
		close(s.infoGate)
		s.infoGate = nil
	}
}

// InfoEntered receives a value each time Info is called
func (s *FakeSession) InfoEntered() <-chan struct{} {
	return s.infoEntered
}

func (s *FakeSession) Subscribe(callback func(device.RawBatch)) error {
	s.Subscribes.Add(1)
	if s.SubscribeErr != nil {
		return s.SubscribeErr
	}
	s.mu.Lock()
	s.callback = callback
	s.last = callback
	initial := s.onSubscribe
	s.mu.Unlock()

	for _, batch := range initial {
		callback(batch)
	}
	return nil
}

func (s *FakeSession) Unsubscribe() error {
	s.Unsubscribes.Add(1)
	s.mu.Lock()
	s.callback = nil
	s.mu.Unlock()
	return s.UnsubscribeErr
}

func (s *FakeSession) Close() error {
	s.Closes.Add(1)
	return s.CloseErr
}

func (s *FakeSession) ResolveDescriptor(handle string) (*device.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptors[handle], nil
}

func (s *FakeSession) Info() device.DeviceInfo {
	s.mu.Lock()
	gate := s.infoGate
	s.mu.Unlock()

	select {
	case s.infoEntered <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Handles lists the handles registered with WithDescriptor
func (s *FakeSession) Handles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.handles...)
}

func (s *FakeSession) Location() device.LocationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *FakeSession) Disconnected() <-chan struct{} {
	return s.lost
}

// Emit delivers a batch through the subscribed callback on the calling goroutine
func (s *FakeSession) Emit(batch device.RawBatch) error {
	s.mu.Lock()
	cb := s.callback
	s.mu.Unlock()
	if cb == nil {
		return ErrNotSubscribed
	}
	cb(batch)
	return nil
}

// EmitLate delivers a batch through the most recent callback even after
// Unsubscribe, like a binding with a delivery already in flight
func (s *FakeSession) EmitLate(batch device.RawBatch) {
	s.mu.Lock()
	cb := s.last
	s.mu.Unlock()
	if cb != nil {
		cb(batch)
	}
}

// Subscribed reports whether a callback is registered
func (s *FakeSession) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callback != nil
}

// Drop simulates the remote end going away
func (s *FakeSession) Drop() {
	s.lostOnce.Do(func() { close(s.lost) })
}

// FakeBinding is a scripted device.SessionBinding
type FakeBinding struct {
	mu      sync.Mutex
	session device.Session
	openErr error
	gate     chan struct{}
	detached bool
	entered  chan struct{}

	Opens atomic.Int32
	// InFlight and PeakInFlight count concurrent OpenSession calls
	InFlight     atomic.Int32
	PeakInFlight atomic.Int32
}

func NewFakeBinding(session device.Session) *FakeBinding {
	return &FakeBinding{session: session, entered: make(chan struct{}, 16)}
}

// SetSession replaces the session returned by later opens
func (b *FakeBinding) SetSession(session device.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = session
}

// FailOpen makes later opens fail with err
func (b *FakeBinding) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// Hold makes later opens block until Release is called or their context ends
func (b *FakeBinding) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
}

// HoldDetached is Hold for a binding that ignores cancellation: opens block
// until Release even when their context ends
func (b *FakeBinding) HoldDetached() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
	b.detached = true
}

// Release unblocks opens waiting because of Hold
func (b *FakeBinding) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
	b.detached = false
}

// Entered receives a value each time an open starts
func (b *FakeBinding) Entered() <-chan struct{} {
	return b.entered
}

func (b *FakeBinding) OpenSession(ctx context.Context, _ device.ServiceRecord) (device.Session, error) {
	b.Opens.Add(1)
	n := b.InFlight.Add(1)
	defer b.InFlight.Add(-1)
	for {
		peak := b.PeakInFlight.Load()
		if n <= peak || b.PeakInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	b.mu.Lock()
	session, openErr, gate, detached := b.session, b.openErr, b.gate, b.detached
	b.mu.Unlock()

	select {
	case b.entered <- struct{}{}:
	default:
	}

	switch {
	case gate != nil && detached:
		<-gate
	case gate != nil:
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}
	return session, nil
}
