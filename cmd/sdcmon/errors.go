package main

import (
	"errors"
	"fmt"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/forward"
)

// Command-level errors
var (
	// ErrDeviceNotFound indicates the requested device was not seen by the search
	ErrDeviceNotFound = errors.New("device not found")
	// ErrAmbiguousDevice indicates a device reference matched more than one device
	ErrAmbiguousDevice = errors.New("device reference is ambiguous")
	// ErrSessionEnded indicates the device session ended while monitoring
	ErrSessionEnded = errors.New("device session ended")
)

// FormatUserError turns internal errors into short messages for the terminal.
// Unknown errors are printed as is.
func FormatUserError(err error) string {
	var (
		derr *device.DiscoveryError
		cerr *device.ConnectionError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrSearchInProgress):
		return "a device search is already running, try again when it finishes"
	case errors.Is(err, device.ErrNotStarted):
		return "discovery is not running"
	case errors.As(err, &derr) && derr.Kind == device.TransportFailure:
		return fmt.Sprintf("device discovery failed: %v", cause(derr.Err))
	case errors.Is(err, device.ErrServiceNotFound):
		return "the device is no longer reachable; run 'sdcmon scan' to refresh the device list"
	case errors.Is(err, device.ErrSubscriptionFailure):
		return "the device refused the metric subscription"
	case errors.Is(err, device.ErrSessionLost), errors.Is(err, ErrSessionEnded):
		return "connection to the device was lost"
	case errors.As(err, &cerr) && cerr.Kind == device.SessionFailure:
		return fmt.Sprintf("could not open a session to the device: %v", cause(cerr.Err))
	case errors.Is(err, forward.ErrPublishTimeout):
		return "the MQTT broker did not acknowledge metrics in time"
	}
	return err.Error()
}

func cause(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
