package device

import "context"

// ServiceRecord is a device advertisement as reported by the discovery transport
type ServiceRecord interface {
	// Identity is the endpoint reference, stable across rediscovery
	Identity() string
	TransportAddresses() []string
	Scopes() []string
}

// DiscoveryTransport is the external WS-Discovery client.
// SearchServices calls handler for every matching advertisement until ctx is done
// or the transport finishes its probe; it may call handler from any goroutine.
type DiscoveryTransport interface {
	Start() error
	Stop() error
	SearchServices(ctx context.Context, types []string, handler func(ServiceRecord)) error
}

// SessionBinding opens stateful sessions to a located device
type SessionBinding interface {
	OpenSession(ctx context.Context, svc ServiceRecord) (Session, error)
}

// Session is a live relationship with one device.
// The callback passed to Subscribe is invoked on goroutines owned by the binding.
type Session interface {
	Subscribe(callback func(RawBatch)) error
	Unsubscribe() error
	Close() error
	ResolveDescriptor(handle string) (*Descriptor, error)
}

// InfoProvider is implemented by sessions that expose DPWS metadata
type InfoProvider interface {
	Info() DeviceInfo
}

// LocationProvider is implemented by sessions that expose an associated location context
type LocationProvider interface {
	Location() LocationInfo
}

// HandleLister is implemented by sessions that enumerate their numeric metric handles
type HandleLister interface {
	Handles() []string
}

// DisconnectNotifier is implemented by sessions that detect remote disconnection
type DisconnectNotifier interface {
	Disconnected() <-chan struct{}
}

// Descriptor is the static metadata of a metric handle
type Descriptor struct {
	Handle string
	Name   string
	Unit   string
}

// DescriptorResolver resolves descriptors on demand
type DescriptorResolver func(handle string) (*Descriptor, error)

// RawState is one raw metric state from an update batch
type RawState struct {
	// Value is nil when the state carries no metric value
	Value any
}

// RawBatch maps metric handles to their raw states
type RawBatch map[string]RawState
