package device_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/sdcmon/internal/device"
)

func TestDisplayNamePriority(t *testing.T) {
	tests := []struct {
		name   string
		record device.DeviceRecord
		want   string
	}{
		{"friendly name", device.DeviceRecord{Name: "adv", Info: device.DeviceInfo{FriendlyName: "ICU Monitor 3", ModelName: "M"}}, "ICU Monitor 3"},
		{"model name", device.DeviceRecord{Name: "adv", Info: device.DeviceInfo{ModelName: "Infinity", Manufacturer: "Draeger"}}, "Infinity"},
		{"manufacturer and model number", device.DeviceRecord{Info: device.DeviceInfo{Manufacturer: "Draeger", ModelNumber: "M540"}}, "Draeger M540"},
		{"manufacturer only", device.DeviceRecord{Name: "adv", Info: device.DeviceInfo{Manufacturer: "Draeger"}}, "Draeger"},
		{"advertised name", device.DeviceRecord{Name: "adv"}, "adv"},
		{"nothing", device.DeviceRecord{}, "Medical Device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.DisplayName())
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "cc013678...", device.DeviceRecord{ID: "urn:uuid:cc013678-79f6-403c-998f-3cc0cc050230"}.ShortID())
	assert.Equal(t, "abc", device.DeviceRecord{ID: "urn:uuid:abc"}.ShortID())
	assert.Equal(t, "http://example.o...", device.DeviceRecord{ID: "http://example.org/device"}.ShortID())
	assert.Equal(t, "urn:x", device.DeviceRecord{ID: "urn:x"}.ShortID())
}

func TestLocationString(t *testing.T) {
	loc := device.LocationInfo{Facility: "HOSP", PoC: "ICU", Bed: "Bed01", Floor: "2"}

	assert.Equal(t, "Facility: HOSP, PoC: ICU, Bed: Bed01", loc.String(), "floor and building MUST NOT appear in the short form")
}

func TestSummary(t *testing.T) {
	rec := device.DeviceRecord{
		ID:             "urn:uuid:1",
		Status:         device.StatusConnected,
		NetworkAddress: "10.0.0.1",
		Location:       device.LocationInfo{Bed: "4"},
		Info:           device.DeviceInfo{Manufacturer: "ACME", ModelNumber: "X1", SerialNumber: "SN9"},
	}

	assert.Equal(t, "Device: ACME X1\n"+
		"EPR: urn:uuid:1\n"+
		"Status: connected\n"+
		"Manufacturer: ACME\n"+
		"Model: X1\n"+
		"Serial: SN9\n"+
		"IP Address: 10.0.0.1\n"+
		"Location: Bed: 4", rec.Summary())
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Status device.Status `json:"status"`
	}{device.StatusError})

	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error"}`, string(data), "status MUST be rendered by name")
	assert.Equal(t, "status(42)", device.Status(42).String())
}

func TestCapabilities(t *testing.T) {
	rec := device.DeviceRecord{
		Location: device.LocationInfo{Bed: "Bed01"},
		Info:     device.DeviceInfo{Manufacturer: "ACME", ModelNumber: "X1", FirmwareVersion: "2.1"},
	}

	caps := rec.Capabilities([]string{"metric.hr", "metric.spo2"})

	assert.Equal(t, device.Capabilities{Metrics: 2, HasLocation: true, Manufacturer: "ACME", Model: "X1", Firmware: "2.1"}, caps)
	assert.False(t, device.DeviceRecord{}.Capabilities(nil).HasLocation, "empty location MUST NOT count as a location")
}
