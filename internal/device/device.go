package device

import (
	"fmt"
	"strings"
	"time"
)

// Status is the connection status of a device
type Status int

const (
	StatusDiscovered Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "discovered"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON and YAML output
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LocationInfo holds the point-of-care location advertised by a device
type LocationInfo struct {
	Facility string `json:"facility,omitempty"`
	PoC      string `json:"poc,omitempty"`
	Bed      string `json:"bed,omitempty"`
	Room     string `json:"room,omitempty"`
	Building string `json:"building,omitempty"`
	Floor    string `json:"floor,omitempty"`
}

// IsEmpty reports whether no location field is set
func (l LocationInfo) IsEmpty() bool {
	return l == LocationInfo{}
}

func (l LocationInfo) String() string {
	parts := make([]string, 0, 4)
	if l.Facility != "" {
		parts = append(parts, "Facility: "+l.Facility)
	}
	if l.PoC != "" {
		parts = append(parts, "PoC: "+l.PoC)
	}
	if l.Bed != "" {
		parts = append(parts, "Bed: "+l.Bed)
	}
	if l.Room != "" {
		parts = append(parts, "Room: "+l.Room)
	}
	if len(parts) == 0 {
		return "Location not available"
	}
	return strings.Join(parts, ", ")
}

// DeviceInfo is the DPWS model and device metadata exposed by a session
//
//nolint:revive // DeviceInfo reads better than Info at call sites (device.DeviceInfo)
type DeviceInfo struct {
	Manufacturer    string `json:"manufacturer,omitempty"`
	ManufacturerURL string `json:"manufacturer_url,omitempty"`
	ModelName       string `json:"model_name,omitempty"`
	ModelNumber     string `json:"model_number,omitempty"`
	ModelURL        string `json:"model_url,omitempty"`
	FriendlyName    string `json:"friendly_name,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
}

// DeviceRecord is an immutable snapshot of a discovered device.
// Records are passed by value; the only way to change Status is through a
// StateMachine owned by the connection manager.
//
//nolint:revive // DeviceRecord name is intentional (device.DeviceRecord)
type DeviceRecord struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	NetworkAddress     string       `json:"network_address,omitempty"`
	Location           LocationInfo `json:"location"`
	Status             Status       `json:"status"`
	DiscoveredAt       time.Time    `json:"discovered_at"`
	Info               DeviceInfo   `json:"info"`
	Scopes             []string     `json:"-"`
	TransportAddresses []string     `json:"-"`
}

// DisplayName returns a user-friendly name.
// Priority: friendly name, model name, manufacturer + model number,
// manufacturer, advertised name.
func (r DeviceRecord) DisplayName() string {
	switch {
	case r.Info.FriendlyName != "":
		return r.Info.FriendlyName
	case r.Info.ModelName != "":
		return r.Info.ModelName
	case r.Info.Manufacturer != "" && r.Info.ModelNumber != "":
		return r.Info.Manufacturer + " " + r.Info.ModelNumber
	case r.Info.Manufacturer != "":
		return r.Info.Manufacturer
	case r.Name != "":
		return r.Name
	default:
		return "Medical Device"
	}
}

// ShortID returns a shortened endpoint reference for display
func (r DeviceRecord) ShortID() string {
	if rest, ok := strings.CutPrefix(r.ID, "urn:uuid:"); ok {
		if len(rest) > 8 {
			return rest[:8] + "..."
		}
		return rest
	}
	if len(r.ID) > 16 {
		return r.ID[:16] + "..."
	}
	return r.ID
}

// Summary returns a multi-line description of the device
func (r DeviceRecord) Summary() string {
	lines := []string{
		"Device: " + r.DisplayName(),
		"EPR: " + r.ID,
		"Status: " + r.Status.String(),
	}
	if r.Info.Manufacturer != "" {
		lines = append(lines, "Manufacturer: "+r.Info.Manufacturer)
	}
	if r.Info.ModelNumber != "" {
		lines = append(lines, "Model: "+r.Info.ModelNumber)
	}
	if r.Info.SerialNumber != "" {
		lines = append(lines, "Serial: "+r.Info.SerialNumber)
	}
	if r.Info.FirmwareVersion != "" {
		lines = append(lines, "Firmware: "+r.Info.FirmwareVersion)
	}
	if r.NetworkAddress != "" {
		lines = append(lines, "IP Address: "+r.NetworkAddress)
	}
	if !r.Location.IsEmpty() {
		lines = append(lines, "Location: "+r.Location.String())
	}
	return strings.Join(lines, "\n")
}

// clone returns a copy that shares no slices with r
// Capabilities summarizes what a connected device reports
type Capabilities struct {
	Metrics      int    `json:"metrics"`
	HasLocation  bool   `json:"has_location"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Firmware     string `json:"firmware,omitempty"`
}

// Capabilities combines the record metadata with the session's metric handles
func (r DeviceRecord) Capabilities(handles []string) Capabilities {
	return Capabilities{
		Metrics:      len(handles),
		HasLocation:  !r.Location.IsEmpty(),
		Manufacturer: r.Info.Manufacturer,
		Model:        r.Info.ModelNumber,
		Firmware:     r.Info.FirmwareVersion,
	}
}

func (r DeviceRecord) clone() DeviceRecord {
	r.Scopes = append([]string(nil), r.Scopes...)
	r.TransportAddresses = append([]string(nil), r.TransportAddresses...)
	return r
}
