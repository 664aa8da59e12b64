// Package telemetry exposes monitor instrumentation as Prometheus metrics.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/pipeline"
)

const metricPrefix = "sdcmon_"

// Recorder implements the pipeline and connection recorder hooks
type Recorder struct {
	samplesAppended *prometheus.CounterVec
	historyEvicted  *prometheus.CounterVec
	entriesSkipped  *prometheus.CounterVec
	observerFailed  prometheus.Counter
	batchDuration   prometheus.Histogram
	batchSamples    prometheus.Histogram
	transitions     *prometheus.CounterVec
	batchesDropped  prometheus.Counter
}

// New creates a Recorder and registers its collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		samplesAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_appended_total",
				Help: "Total metric samples appended to history by handle",
			},
			[]string{"handle"},
		),
		historyEvicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_evictions_total",
				Help: "Total samples evicted from full histories by handle",
			},
			[]string{"handle"},
		),
		entriesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "entries_skipped_total",
				Help: "Total raw metric entries skipped by reason",
			},
			[]string{"reason"},
		),
		observerFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "observer_failures_total",
				Help: "Total observer notifications that failed",
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "batch_processing_seconds",
				Help:    "Raw batch processing latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),
		batchSamples: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "batch_samples",
				Help:    "Samples produced per raw batch",
				Buckets: prometheus.LinearBuckets(0, 4, 8),
			},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_transitions_total",
				Help: "Total device status transitions",
			},
			[]string{"from", "to"},
		),
		batchesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "batches_dropped_total",
				Help: "Total raw batches overwritten in full session queues",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		r.samplesAppended, r.historyEvicted, r.entriesSkipped, r.observerFailed,
		r.batchDuration, r.batchSamples, r.transitions, r.batchesDropped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) SampleAppended(handle string, evicted bool) {
	r.samplesAppended.WithLabelValues(handle).Inc()
	if evicted {
		r.historyEvicted.WithLabelValues(handle).Inc()
	}
}

func (r *Recorder) EntrySkipped(_ string, reason pipeline.SkipReason) {
	r.entriesSkipped.WithLabelValues(string(reason)).Inc()
}

func (r *Recorder) ObserverFailed() {
	r.observerFailed.Inc()
}

func (r *Recorder) BatchProcessed(produced int, elapsed time.Duration) {
	r.batchDuration.Observe(elapsed.Seconds())
	r.batchSamples.Observe(float64(produced))
}

func (r *Recorder) StatusChanged(from, to device.Status) {
	r.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (r *Recorder) BatchDropped() {
	r.batchesDropped.Inc()
}
