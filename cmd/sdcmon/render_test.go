package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/testutils"
	"github.com/srg/sdcmon/pipeline"
)

func TestVitalsViewRender(t *testing.T) {
	// GOAL: Verify the vitals table shows the newest value, range and trend per metric
	//
	// TEST SCENARIO: Three hr updates → render to a buffer → plain text row with range and rising mark

	logger, _ := testutils.NewTestLogger()
	p := pipeline.New(pipeline.DefaultOptions(), logger)
	resolve := func(handle string) (*device.Descriptor, error) {
		return &device.Descriptor{Handle: handle, Name: "Heart Rate", Unit: "bpm"}, nil
	}
	for _, v := range []float64{70, 68, 75} {
		p.ProcessUpdate(device.RawBatch{"metric.hr": {Value: v}}, resolve)
	}

	var out bytes.Buffer
	view := newVitalsView(&out)
	record := device.DeviceRecord{
		ID:       "urn:uuid:1",
		Name:     "Monitor",
		Status:   device.StatusConnected,
		Location: device.LocationInfo{Bed: "Bed01"},
	}

	view.render(record, p, 3)

	text := out.String()
	assert.NotContains(t, text, clearScreenSequence, "non-terminal output MUST not be cleared")
	assert.NotContains(t, text, "\x1b[", "non-terminal output MUST not be colored")
	assert.Contains(t, text, "Monitor  [connected]  Bed: Bed01")
	assert.Contains(t, text, "Heart Rate")
	assert.Contains(t, text, "75.0")
	assert.Contains(t, text, "68.0-75.0")
	assert.Contains(t, text, "↑")
	assert.Contains(t, text, "3 frames skipped by the display")
}

func TestVitalsViewWaiting(t *testing.T) {
	logger, _ := testutils.NewTestLogger()
	p := pipeline.New(pipeline.DefaultOptions(), logger)

	var out bytes.Buffer
	newVitalsView(&out).render(device.DeviceRecord{Name: "Monitor"}, p, 0)

	assert.Contains(t, out.String(), "Waiting for metrics...")
}

func TestSummaryLines(t *testing.T) {
	logger, _ := testutils.NewTestLogger()
	p := pipeline.New(pipeline.DefaultOptions(), logger)
	resolve := func(handle string) (*device.Descriptor, error) {
		return &device.Descriptor{Handle: handle, Name: "SpO₂", Unit: "%"}, nil
	}
	p.ProcessUpdate(device.RawBatch{"metric.spo2": {Value: 96}}, resolve)
	p.ProcessUpdate(device.RawBatch{"metric.spo2": {Value: 98}}, resolve)

	lines := summaryLines(p)

	assert.Equal(t, []string{"SpO₂: 2 samples, last 98.0 %, range 96.0-98.0"}, lines)
}

func TestProgressPrinterStop(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressPrinter(&out, "Searching", 2*time.Second)

	p.Start()
	p.SetPhase("probing")
	p.Stop()
	p.Stop()

	assert.Contains(t, out.String(), "Searching (working 2s)")
	assert.Contains(t, out.String(), clearLineSequence, "Stop MUST clear the line")
}
