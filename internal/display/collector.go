// Package display buffers metric batches between the pipeline and a terminal
// renderer that runs at its own pace.
package display

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/srg/sdcmon/pipeline"
)

// MaxBufferSize sets an upper limit on the buffer size to guard against accidental misconfiguration.
const MaxBufferSize uint32 = 64 * 1024

// Frame is one batch as seen by the renderer
type Frame struct {
	Samples    []pipeline.Sample
	ReceivedAt time.Time
}

// Metrics provides lock-free counters of a Collector
type Metrics struct {
	FramesCollected   int64
	FramesOverwritten int64
	ErrorsOccurred    int64
}

// Collector is a pipeline observer that keeps the most recent frames in an
// overlapped ring buffer. Observe never blocks; when the renderer falls behind
// the oldest frames are overwritten.
//
// All methods are thread-safe.
type Collector struct {
	buffer  mpmc.RichOverlappedRingBuffer[Frame]
	metrics Metrics
	running atomic.Bool
	now     func() time.Time
}

// NewCollector creates a collector holding up to bufferSize frames
func NewCollector(bufferSize uint32) (*Collector, error) {
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}
	return &Collector{
		buffer: mpmc.NewOverlappedRingBuffer[Frame](bufferSize),
		now:    time.Now,
	}, nil
}

// Observe implements pipeline.Observer
func (c *Collector) Observe(samples []pipeline.Sample) error {
	overwrites, err := c.buffer.EnqueueM(Frame{Samples: samples, ReceivedAt: c.now()})
	if err != nil {
		atomic.AddInt64(&c.metrics.ErrorsOccurred, 1)
		return fmt.Errorf("unexpected buffer enqueue error: %w", err)
	}
	atomic.AddInt64(&c.metrics.FramesOverwritten, int64(overwrites))
	atomic.AddInt64(&c.metrics.FramesCollected, 1)
	return nil
}

// GetMetrics returns a copy of the current metrics
func (c *Collector) GetMetrics() Metrics {
	return Metrics{
		FramesCollected:   atomic.LoadInt64(&c.metrics.FramesCollected),
		FramesOverwritten: atomic.LoadInt64(&c.metrics.FramesOverwritten),
		ErrorsOccurred:    atomic.LoadInt64(&c.metrics.ErrorsOccurred),
	}
}

// ConsumerFunc consumes frames.
//
// Protocol:
// - If frame != nil: process it. Return the zero value to continue, a non-zero
// result to stop early.
// - If frame == nil: no more frames will be provided. Return the final result.
type ConsumerFunc[T any] func(frame *Frame) (T, error)

// ConsumeFrames drains buffered frames into consumer
func ConsumeFrames[T any](c *Collector, consumer ConsumerFunc[T]) (T, error) {
	for !c.buffer.IsEmpty() {
		frame, err := c.buffer.Dequeue()
		if err != nil {
			var zero T
			return zero, fmt.Errorf("buffer dequeue error: %w", err)
		}

		result, err := consumer(&frame)
		if err != nil {
			return result, err
		}
		if !isZeroValue(result) {
			return result, nil
		}
	}
	return consumer(nil)
}

func isZeroValue[T any](v T) bool {
	var zero T
	return reflect.DeepEqual(v, zero)
}

// LatestByHandleConsumerFunc folds frames into the newest sample per handle
func LatestByHandleConsumerFunc() ConsumerFunc[map[string]pipeline.Sample] {
	latest := make(map[string]pipeline.Sample)
	return func(frame *Frame) (map[string]pipeline.Sample, error) {
		if frame == nil {
			return latest, nil
		}
		for _, s := range frame.Samples {
			latest[s.Handle] = s
		}
		return nil, nil
	}
}

// Run drains the collector every interval and hands the newest sample per
// handle to render until ctx is done. Handles without new samples are omitted.
func (c *Collector) Run(ctx context.Context, interval time.Duration, render func(map[string]pipeline.Sample)) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("collector is already running")
	}
	defer c.running.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			latest, err := ConsumeFrames(c, LatestByHandleConsumerFunc())
			if err != nil {
				return err
			}
			if len(latest) > 0 {
				render(latest)
			}
		}
	}
}
