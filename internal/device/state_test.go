package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/sdcmon/internal/device"
)

func TestCanTransition(t *testing.T) {
	allowed := map[device.Status][]device.Status{
		device.StatusDiscovered:   {device.StatusConnecting},
		device.StatusConnecting:   {device.StatusConnected, device.StatusError, device.StatusDisconnected},
		device.StatusConnected:    {device.StatusDisconnected, device.StatusError},
		device.StatusDisconnected: {device.StatusConnecting},
		device.StatusError:        {device.StatusConnecting},
	}
	all := []device.Status{
		device.StatusDiscovered, device.StatusConnecting, device.StatusConnected,
		device.StatusDisconnected, device.StatusError,
	}

	for _, from := range all {
		for _, to := range all {
			want := contains(allowed[from], to)
			assert.Equal(t, want, device.CanTransition(from, to), "transition %s -> %s", from, to)
		}
	}
}

func contains(list []device.Status, s device.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestStateMachine(t *testing.T) {
	t.Run("forces discovered on creation", func(t *testing.T) {
		m := device.NewStateMachine(device.DeviceRecord{ID: "urn:a", Status: device.StatusConnected})

		assert.Equal(t, device.StatusDiscovered, m.Status(), "new state machines MUST start Discovered")
	})

	t.Run("full lifecycle", func(t *testing.T) {
		// GOAL: Verify the connect/disconnect/reconnect lifecycle is accepted
		//
		// TEST SCENARIO: Discovered → Connecting → Connected → Disconnected → Connecting → Error → Connecting

		m := device.NewStateMachine(device.DeviceRecord{ID: "urn:a"})
		steps := []device.Status{
			device.StatusConnecting, device.StatusConnected, device.StatusDisconnected,
			device.StatusConnecting, device.StatusError, device.StatusConnecting,
		}

		prev := device.StatusDiscovered
		for _, to := range steps {
			from, err := m.Transition(to)
			require.NoError(t, err, "transition to %s MUST be allowed", to)
			assert.Equal(t, prev, from, "Transition MUST return the previous status")
			prev = to
		}
	})

	t.Run("rejects illegal transition", func(t *testing.T) {
		m := device.NewStateMachine(device.DeviceRecord{ID: "urn:a"})

		from, err := m.Transition(device.StatusConnected)

		assert.ErrorIs(t, err, device.ErrInvalidTransition, "Discovered -> Connected MUST be rejected")
		assert.Equal(t, device.StatusDiscovered, from)
		assert.Equal(t, device.StatusDiscovered, m.Status(), "status MUST NOT change on rejection")
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		m := device.NewStateMachine(device.DeviceRecord{ID: "urn:a", Scopes: []string{"s1"}})

		snap := m.Snapshot()
		snap.Scopes[0] = "mutated"

		assert.Equal(t, "s1", m.Snapshot().Scopes[0], "snapshots MUST NOT share slices with the owner")
	})

	t.Run("enrich keeps advertised location", func(t *testing.T) {
		advertised := device.LocationInfo{Facility: "HOSP"}
		m := device.NewStateMachine(device.DeviceRecord{ID: "urn:a", Location: advertised})

		m.Enrich(device.DeviceInfo{Manufacturer: "Draeger"}, device.LocationInfo{Facility: "OTHER"})

		snap := m.Snapshot()
		assert.Equal(t, advertised, snap.Location, "advertised location MUST win over session location")
		assert.Equal(t, "Draeger", snap.Info.Manufacturer)
	})

	t.Run("enrich fills missing location", func(t *testing.T) {
		m := device.NewStateMachine(device.DeviceRecord{ID: "urn:a"})

		m.Enrich(device.DeviceInfo{}, device.LocationInfo{Bed: "7"})

		assert.Equal(t, "7", m.Snapshot().Location.Bed, "session location MUST be used when none was advertised")
	})
}
