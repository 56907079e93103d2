package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Ae-Ti/BMN-sub000/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Syncing      State = "SYNCING"
	Degraded     State = "DEGRADED"
	Connecting   State = "CONNECTING"
	Ready        State = "READY"
	Offline      State = "OFFLINE"
	Reconnecting State = "RECONNECTING"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions. SYNCING is the REST
// bootstrap; CONNECTING onward tracks the live channel. OFFLINE means the
// live channel is closed while REST calls keep working.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Syncing, Error},
	AuthRequired: {Syncing, Error},
	Syncing:      {Connecting, Degraded, AuthRequired, Error},
	Degraded:     {Syncing, Connecting, AuthRequired, Error},
	Connecting:   {Ready, Offline, AuthRequired, Error},
	Ready:        {Offline, Reconnecting, AuthRequired, Error},
	Offline:      {Connecting, Reconnecting, AuthRequired, Error},
	Reconnecting: {Ready, Offline, AuthRequired, Error},
	Error:        {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Can reports whether moving to the given state is currently allowed.
func (m *Machine) Can(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(validTransitions[m.current], to)
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindSessionStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
