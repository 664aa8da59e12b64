package device

import (
	"fmt"
	"sync"
)

var allowedTransitions = map[Status][]Status{
	StatusDiscovered:   {StatusConnecting},
	StatusConnecting:   {StatusConnected, StatusError, StatusDisconnected},
	StatusConnected:    {StatusDisconnected, StatusError},
	StatusDisconnected: {StatusConnecting},
	StatusError:        {StatusConnecting},
}

// CanTransition reports whether from -> to is a legal status change
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateMachine owns the status of one DeviceRecord.
// Transition is the only way to mutate Status; readers get value snapshots.
type StateMachine struct {
	mu     sync.RWMutex
	record DeviceRecord
}

// NewStateMachine starts tracking record in the Discovered state
func NewStateMachine(record DeviceRecord) *StateMachine {
	record = record.clone()
	record.Status = StatusDiscovered
	return &StateMachine{record: record}
}

// Transition moves to the given status and returns the previous one
func (m *StateMachine) Transition(to Status) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.record.Status
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.record.Status = to
	return from, nil
}

// Status returns the current status
func (m *StateMachine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record.Status
}

// Snapshot returns a copy of the tracked record
func (m *StateMachine) Snapshot() DeviceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record.clone()
}

// Enrich merges session metadata into the record. ID and Status are not touched.
func (m *StateMachine) Enrich(info DeviceInfo, location LocationInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info != (DeviceInfo{}) {
		m.record.Info = info
	}
	if m.record.Location.IsEmpty() && !location.IsEmpty() {
		m.record.Location = location
	}
}
