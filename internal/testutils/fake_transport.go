package testutils

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/srg/sdcmon/internal/device"
)

// FakeTransport is a scripted device.DiscoveryTransport.
// Each search reports Records in order; when Block is set it then waits for
// the search context to end, like a real probe that runs until its timeout.
type FakeTransport struct {
	mu        sync.Mutex
	records   []device.ServiceRecord
	searchErr error
	startErr  error
	block     bool
	entered   chan struct{}

	Starts   atomic.Int32
	Stops    atomic.Int32
	Searches atomic.Int32
	// LastTypes holds the service types of the most recent search
	LastTypes []string
}

func NewFakeTransport(records ...device.ServiceRecord) *FakeTransport {
	return &FakeTransport{records: records, entered: make(chan struct{}, 16)}
}

// SetRecords replaces the advertisements reported by later searches
func (f *FakeTransport) SetRecords(records ...device.ServiceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
}

// FailSearch makes later searches fail with err after reporting the records
func (f *FakeTransport) FailSearch(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchErr = err
}

// FailStart makes Start fail with err
func (f *FakeTransport) FailStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// BlockUntilDone makes searches wait for their context after reporting the records
func (f *FakeTransport) BlockUntilDone(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = block
}

// Entered receives a value each time a search starts
func (f *FakeTransport) Entered() <-chan struct{} {
	return f.entered
}

func (f *FakeTransport) Start() error {
	f.Starts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startErr
}

func (f *FakeTransport) Stop() error {
	f.Stops.Add(1)
	return nil
}

func (f *FakeTransport) SearchServices(ctx context.Context, types []string, handler func(device.ServiceRecord)) error {
	f.Searches.Add(1)

	f.mu.Lock()
	records := append([]device.ServiceRecord(nil), f.records...)
	searchErr, block := f.searchErr, f.block
	f.LastTypes = append([]string(nil), types...)
	f.mu.Unlock()

	select {
	case f.entered <- struct{}{}:
	default:
	}

	for _, r := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(r)
	}
	if searchErr != nil {
		return searchErr
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}
