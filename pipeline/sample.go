package pipeline

import (
	"fmt"
	"time"
)

// Sample is one typed metric reading
type Sample struct {
	Handle    string    `json:"handle"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

func (s Sample) String() string {
	return fmt.Sprintf("%s: %g %s", s.Name, s.Value, s.Unit)
}

// SkipReason tells why a raw entry produced no sample
type SkipReason string

const (
	SkipNoValue         SkipReason = "no_value"
	SkipNoDescriptor    SkipReason = "no_descriptor"
	SkipDescriptorError SkipReason = "descriptor_error"
	SkipNotNumeric      SkipReason = "not_numeric"
	SkipPanic           SkipReason = "panic"
)

// Recorder receives pipeline instrumentation events.
// Implementations must be safe for concurrent use.
type Recorder interface {
	SampleAppended(handle string, evicted bool)
	EntrySkipped(handle string, reason SkipReason)
	ObserverFailed()
	BatchProcessed(produced int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) SampleAppended(string, bool)       {}
func (nopRecorder) EntrySkipped(string, SkipReason)   {}
func (nopRecorder) ObserverFailed()                   {}
func (nopRecorder) BatchProcessed(int, time.Duration) {}
