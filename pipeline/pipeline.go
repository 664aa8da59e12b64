// Package pipeline turns raw SDC metric update batches into typed samples,
// keeps a bounded history per metric handle and fans results out to observers.
package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/vitaldb"
)

// DefaultHistoryCapacity is the number of samples kept per handle
const DefaultHistoryCapacity = 100

// Options configures a Pipeline
type Options struct {
	// HistoryCapacity bounds each per-handle history; <= 0 uses DefaultHistoryCapacity
	HistoryCapacity int
	// Names overrides built-in display names
	Names vitaldb.Names
	// Recorder receives instrumentation events; nil disables instrumentation
	Recorder Recorder
	// Clock returns the sample timestamp; nil uses time.Now
	Clock func() time.Time
}

// DefaultOptions returns the default pipeline options
func DefaultOptions() Options {
	return Options{HistoryCapacity: DefaultHistoryCapacity}
}

// Pipeline is the metric ingestion pipeline of one monitor.
// ProcessUpdate calls are serialized; queries may run concurrently with them.
type Pipeline struct {
	processMu sync.Mutex

	historyMu sync.RWMutex
	histories map[string]*Ring[Sample]

	observers *observerRegistry
	// epoch advances on every full Clear
	epoch atomic.Uint64

	capacity int
	names    vitaldb.Names
	recorder Recorder
	clock    func() time.Time
	logger   *logrus.Logger
}

// New creates a pipeline. A nil logger falls back to logrus.New().
func New(opts Options, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = DefaultHistoryCapacity
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		histories: make(map[string]*Ring[Sample]),
		observers: newObserverRegistry(),
		capacity:  opts.HistoryCapacity,
		names:     opts.Names,
		recorder:  opts.Recorder,
		clock:     opts.Clock,
		logger:    logger,
	}
}

// ProcessUpdate converts a raw batch into samples, appends them to the
// histories and notifies every observer with the full list.
// Entries that cannot be converted are logged and skipped; the rest of the
// batch is still processed. Observers are not called for an empty result.
func (p *Pipeline) ProcessUpdate(batch device.RawBatch, resolve device.DescriptorResolver) []Sample {
	p.processMu.Lock()
	defer p.processMu.Unlock()

	started := time.Now()
	epoch := p.epoch.Load()

	handles := make([]string, 0, len(batch))
	for h := range batch {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	samples := make([]Sample, 0, len(handles))
	for _, handle := range handles {
		sample, ok := p.processEntry(handle, batch[handle], resolve)
		if !ok {
			continue
		}
		samples = append(samples, sample)
	}

	p.recorder.BatchProcessed(len(samples), time.Since(started))

	if len(samples) == 0 {
		return samples
	}
	p.notify(samples, epoch)
	return samples
}

func (p *Pipeline) processEntry(handle string, state device.RawState, resolve device.DescriptorResolver) (sample Sample, ok bool) {
	log := p.logger.WithField("handle", handle)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Metric entry processing panicked")
			p.recorder.EntrySkipped(handle, SkipPanic)
			ok = false
		}
	}()

	if state.Value == nil {
		log.Debug("Metric state carries no value")
		p.recorder.EntrySkipped(handle, SkipNoValue)
		return Sample{}, false
	}

	if resolve == nil {
		log.Warn("No descriptor resolver available")
		p.recorder.EntrySkipped(handle, SkipNoDescriptor)
		return Sample{}, false
	}
	desc, err := resolve(handle)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve metric descriptor")
		p.recorder.EntrySkipped(handle, SkipDescriptorError)
		return Sample{}, false
	}
	if desc == nil {
		log.Warn("Metric descriptor not found")
		p.recorder.EntrySkipped(handle, SkipNoDescriptor)
		return Sample{}, false
	}

	value, err := toFloat(state.Value)
	if err != nil {
		log.WithError(err).Warn("Metric value is not numeric")
		p.recorder.EntrySkipped(handle, SkipNotNumeric)
		return Sample{}, false
	}

	sample = Sample{
		Handle:    handle,
		Name:      p.displayName(handle, desc),
		Unit:      desc.Unit,
		Value:     value,
		Timestamp: p.clock(),
	}
	if sample.Unit == "" {
		if e, found := vitaldb.Lookup(handle); found {
			sample.Unit = e.Unit
		}
	}

	ring := p.ring(handle)
	if last, found := ring.Last(); found && sample.Timestamp.Before(last.Timestamp) {
		sample.Timestamp = last.Timestamp
	}
	evicted := ring.Append(sample)
	p.recorder.SampleAppended(handle, evicted)

	return sample, true
}

func (p *Pipeline) displayName(handle string, desc *device.Descriptor) string {
	if desc.Name != "" {
		return desc.Name
	}
	if name := p.names.Name(handle); name != "" {
		return name
	}
	return handle
}

func (p *Pipeline) ring(handle string) *Ring[Sample] {
	p.historyMu.RLock()
	r, ok := p.histories[handle]
	p.historyMu.RUnlock()
	if ok {
		return r
	}

	p.historyMu.Lock()
	defer p.historyMu.Unlock()
	if r, ok = p.histories[handle]; ok {
		return r
	}
	r = NewRing[Sample](p.capacity)
	p.histories[handle] = r
	return r
}

// notify stops early once a full Clear has happened since the batch started,
// so observers never see samples of a session that already ended
func (p *Pipeline) notify(samples []Sample, epoch uint64) {
	for _, o := range p.observers.snapshot() {
		if p.epoch.Load() != epoch {
			p.logger.WithField("samples", len(samples)).Debug("Histories cleared, batch delivery stopped")
			return
		}
		batch := make([]Sample, len(samples))
		copy(batch, samples)
		if err := p.callObserver(o, batch); err != nil {
			p.recorder.ObserverFailed()
			p.logger.WithFields(logrus.Fields{
				"subscription": uint64(o.id),
				"error":        err,
			}).Warn("Metric observer failed")
		}
	}
}

func (p *Pipeline) callObserver(o registeredObserver, samples []Sample) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return o.fn(samples)
}

// Subscribe registers an observer and returns its subscription.
// Registering the same function twice creates two subscriptions.
func (p *Pipeline) Subscribe(fn Observer) SubscriptionID {
	return p.observers.add(fn)
}

// Unsubscribe removes an observer. It reports whether the subscription existed.
func (p *Pipeline) Unsubscribe(id SubscriptionID) bool {
	return p.observers.remove(id)
}

// Observers returns the number of registered observers
func (p *Pipeline) Observers() int {
	return p.observers.len()
}

// History returns up to limit most recent samples for handle, oldest first.
// A limit <= 0 returns the whole history.
func (p *Pipeline) History(handle string, limit int) []Sample {
	p.historyMu.RLock()
	r, ok := p.histories[handle]
	p.historyMu.RUnlock()
	if !ok {
		return []Sample{}
	}
	return r.Snapshot(limit)
}

// Latest returns the newest sample for handle
func (p *Pipeline) Latest(handle string) (Sample, bool) {
	p.historyMu.RLock()
	r, ok := p.histories[handle]
	p.historyMu.RUnlock()
	if !ok {
		return Sample{}, false
	}
	return r.Last()
}

// AllLatest returns the newest sample of every handle that has one
func (p *Pipeline) AllLatest() map[string]Sample {
	p.historyMu.RLock()
	defer p.historyMu.RUnlock()

	out := make(map[string]Sample, len(p.histories))
	for h, r := range p.histories {
		if s, ok := r.Last(); ok {
			out[h] = s
		}
	}
	return out
}

// Handles returns the handles with history, sorted
func (p *Pipeline) Handles() []string {
	p.historyMu.RLock()
	defer p.historyMu.RUnlock()

	out := make([]string, 0, len(p.histories))
	for h, r := range p.histories {
		if r.Len() > 0 {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}

// Clear drops the history of the given handles, or of every handle when none
// is given. Clearing every handle also stops delivery of a batch still being
// fanned out to observers.
func (p *Pipeline) Clear(handles ...string) {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()

	if len(handles) == 0 {
		p.epoch.Add(1)
		p.histories = make(map[string]*Ring[Sample])
		return
	}
	for _, h := range handles {
		if r, ok := p.histories[h]; ok {
			r.Reset()
		}
	}
}
