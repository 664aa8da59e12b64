package device

import (
	"errors"
	"fmt"
)

// DiscoveryErrorKind is the specific kind of discovery failure
type DiscoveryErrorKind string

const (
	NotStarted       DiscoveryErrorKind = "discovery_not_started"
	TransportFailure DiscoveryErrorKind = "transport_failure"
	SearchInProgress DiscoveryErrorKind = "search_in_progress"
)

// DiscoveryError represents a failed or rejected search
type DiscoveryError struct {
	Kind DiscoveryErrorKind
	Err  error
}

func (e *DiscoveryError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare DiscoveryError values by Kind
func (e *DiscoveryError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DiscoveryError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// ConnectionErrorKind is the specific kind of connection failure
type ConnectionErrorKind string

const (
	ServiceNotFound     ConnectionErrorKind = "service_not_found"
	SessionFailure      ConnectionErrorKind = "session_failure"
	SubscriptionFailure ConnectionErrorKind = "subscription_failure"
	InProgress          ConnectionErrorKind = "connect_in_progress"
	AlreadyConnected    ConnectionErrorKind = "already_connected"
	Aborted             ConnectionErrorKind = "connect_aborted"
	SessionLost         ConnectionErrorKind = "session_lost"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	Kind     ConnectionErrorKind
	DeviceID string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.DeviceID != "" {
		msg = fmt.Sprintf("%s (device %s)", msg, e.DeviceID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare ConnectionError values by Kind
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors
var (
	ErrNotStarted       = &DiscoveryError{Kind: NotStarted}
	ErrTransportFailure = &DiscoveryError{Kind: TransportFailure}
	ErrSearchInProgress = &DiscoveryError{Kind: SearchInProgress}

	ErrServiceNotFound     = &ConnectionError{Kind: ServiceNotFound}
	ErrSessionFailure      = &ConnectionError{Kind: SessionFailure}
	ErrSubscriptionFailure = &ConnectionError{Kind: SubscriptionFailure}
	ErrConnectInProgress   = &ConnectionError{Kind: InProgress}
	ErrAlreadyConnected    = &ConnectionError{Kind: AlreadyConnected}
	ErrConnectAborted      = &ConnectionError{Kind: Aborted}
	ErrSessionLost         = &ConnectionError{Kind: SessionLost}
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid status transition")

// IsConnectionKind reports whether err is a ConnectionError of the given kind
func IsConnectionKind(err error, kind ConnectionErrorKind) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.Kind == kind
	}
	return false
}
