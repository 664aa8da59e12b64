package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/sdcmon/internal/device"
)

func TestMatchDevice(t *testing.T) {
	records := []device.DeviceRecord{
		{ID: "urn:uuid:1b4e28ba-2fa1-11d2-883f-0016d3cca427", Name: "Monitor-A"},
		{ID: "urn:uuid:1b4e9999-2fa1-11d2-883f-0016d3cca427", Name: "Monitor-B"},
		{ID: "urn:uuid:77aa0000-0000-0000-0000-000000000000", Name: "Pump", Info: device.DeviceInfo{FriendlyName: "Infusion Pump"}},
	}

	tests := []struct {
		name    string
		ref     string
		wantID  string
		wantErr error
	}{
		{name: "full id", ref: "urn:uuid:77aa0000-0000-0000-0000-000000000000", wantID: records[2].ID},
		{name: "short id from scan", ref: "77aa0000...", wantID: records[2].ID},
		{name: "unique prefix", ref: "1b4e28", wantID: records[0].ID},
		{name: "advertised name", ref: "monitor-b", wantID: records[1].ID},
		{name: "display name", ref: "Infusion Pump", wantID: records[2].ID},
		{name: "ambiguous prefix", ref: "1b4e", wantErr: ErrAmbiguousDevice},
		{name: "unknown", ref: "ventilator", wantErr: ErrDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := matchDevice(records, tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}
