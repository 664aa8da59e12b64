// Package simulator provides in-process SDC providers that stand in for a
// WS-Discovery network and device sessions.
package simulator

import (
	"fmt"
	"math/rand"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/srg/sdcmon/internal/device"
)

// BaseUUID is the namespace simulated endpoint references are derived from
var BaseUUID = uuid.MustParse("cc013678-79f6-403c-998f-3cc0cc050230")

// walk produces the next value of a metric on every loop
type walk func(loop int, current float64, rng *rand.Rand) (float64, bool)

type metric struct {
	descriptor device.Descriptor
	initial    float64
	next       walk
}

// Provider is one simulated medical device
type Provider struct {
	ID       string
	Name     string
	Address  string
	Location device.LocationInfo
	Info     device.DeviceInfo

	metrics []metric
}

// NewProvider builds the simulated provider with the given index.
// The identity is stable for an index.
func NewProvider(index int) *Provider {
	id := uuid.NewSHA1(BaseUUID, []byte(fmt.Sprintf("provider-%d", index)))
	name := fmt.Sprintf("SimMonitor-%02d", index+1)
	return &Provider{
		ID:      "urn:uuid:" + id.String(),
		Name:    name,
		Address: fmt.Sprintf("http://127.0.0.%d:%d/%s", index+1, 6464, id.String()),
		Location: device.LocationInfo{
			Facility: "HOSP",
			PoC:      "ICU",
			Bed:      fmt.Sprintf("Bed%02d", index+1),
		},
		Info: device.DeviceInfo{
			Manufacturer:    "sdcmon",
			ManufacturerURL: "https://github.com/srg/sdcmon",
			ModelName:       "Simulated Patient Monitor",
			ModelNumber:     "SIM-1",
			FriendlyName:    name,
			FirmwareVersion: "1.0.0",
			SerialNumber:    fmt.Sprintf("SIM%06d", index+1),
		},
		metrics: referenceMetrics(),
	}
}

// Scopes returns the advertised WS-Discovery scopes
func (p *Provider) Scopes() []string {
	q := url.Values{}
	q.Set("fac", p.Location.Facility)
	q.Set("poc", p.Location.PoC)
	q.Set("bed", p.Location.Bed)
	return []string{
		"sdc.mds.pkp:1.2.840.10004.20701.1.1",
		"sdc.ctxt.loc:/sdc.ctxt.loc.detail/" + url.PathEscape(p.Location.Bed) + "?" + q.Encode(),
		"sdc.mds.name:/" + url.PathEscape(p.Name),
	}
}

// Handles returns the metric handles the provider reports, in report order
func (p *Provider) Handles() []string {
	handles := make([]string, len(p.metrics))
	for i, m := range p.metrics {
		handles[i] = m.descriptor.Handle
	}
	return handles
}

func (p *Provider) descriptor(handle string) (*device.Descriptor, bool) {
	for _, m := range p.metrics {
		if m.descriptor.Handle == handle {
			d := m.descriptor
			return &d, true
		}
	}
	return nil, false
}

func (p *Provider) record() advertisement {
	return advertisement{id: p.ID, addrs: []string{p.Address}, scopes: p.Scopes()}
}

// referenceMetrics reproduces the value walks of the reference SDC providers
func referenceMetrics() []metric {
	return []metric{
		{
			descriptor: device.Descriptor{Handle: "metric.ibp.mean", Name: "IBP Mean", Unit: "mmHg"},
			initial:    65,
			next: func(_ int, _ float64, rng *rand.Rand) (float64, bool) {
				return 60 + rng.Float64()*10, true
			},
		},
		{
			descriptor: device.Descriptor{Handle: "metric.cvp", Name: "CVP", Unit: "mmHg"},
			initial:    98.5,
			next: func(_ int, v float64, rng *rand.Rand) (float64, bool) {
				return clamp(v-1.5+rng.Float64()*2.5, 90, 100), true
			},
		},
		{
			descriptor: device.Descriptor{Handle: "metric.pap.mean", Name: "PAP Mean", Unit: "mmHg"},
			initial:    37,
			next: func(loop int, _ float64, rng *rand.Rand) (float64, bool) {
				if loop%6 != 0 {
					return 0, false
				}
				return 36.8 + rng.Float64()*0.4, true
			},
		},
		{
			descriptor: device.Descriptor{Handle: "metric.hr", Name: "Heart Rate", Unit: "bpm"},
			initial:    72,
			next: func(_ int, v float64, rng *rand.Rand) (float64, bool) {
				return clamp(v-2+rng.Float64()*4, 55, 110), true
			},
		},
		{
			descriptor: device.Descriptor{Handle: "metric.spo2", Name: "SpO₂", Unit: "%"},
			initial:    97,
			next: func(_ int, v float64, rng *rand.Rand) (float64, bool) {
				return clamp(v-0.5+rng.Float64(), 92, 100), true
			},
		},
		{
			descriptor: device.Descriptor{Handle: "metric.temp", Name: "Temperature", Unit: "°C"},
			initial:    36.8,
			next: func(_ int, v float64, rng *rand.Rand) (float64, bool) {
				return clamp(v-0.05+rng.Float64()*0.1, 35.5, 38.5), true
			},
		},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// advertisement implements device.ServiceRecord
type advertisement struct {
	id     string
	addrs  []string
	scopes []string
}

func (a advertisement) Identity() string            { return a.id }
func (a advertisement) TransportAddresses() []string { return a.addrs }
func (a advertisement) Scopes() []string             { return a.scopes }

// values tracks the current walk position of one session
type values struct {
	mu      sync.Mutex
	loop    int
	current []float64
	rng     *rand.Rand
}

func newValues(metrics []metric, seed int64) *values {
	current := make([]float64, len(metrics))
	for i, m := range metrics {
		current[i] = m.initial
	}
	return &values{current: current, rng: rand.New(rand.NewSource(seed))}
}

// step advances every walk and returns the states updated on this loop
func (v *values) step(metrics []metric) device.RawBatch {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.loop++
	batch := make(device.RawBatch, len(metrics))
	for i, m := range metrics {
		next, ok := m.next(v.loop, v.current[i], v.rng)
		if !ok {
			continue
		}
		v.current[i] = next
		batch[m.descriptor.Handle] = device.RawState{Value: next}
	}
	return batch
}
