// Package status tracks the sync loop's run state.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/lined/internal/bus"
)

// State is a sync loop state.
type State string

const (
	Idle     State = "IDLE"
	Polling  State = "POLLING"
	Applying State = "APPLYING"
	Stopped  State = "STOPPED"
)

// validTransitions defines allowed state transitions. Stopped is terminal.
var validTransitions = map[State][]State{
	Idle:     {Polling, Stopped},
	Polling:  {Applying, Idle, Stopped},
	Applying: {Polling, Idle, Stopped},
	Stopped:  {},
}

// Machine tracks and enforces sync loop state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.Event{
		Kind:    bus.KindSyncState,
		Payload: Change{From: from, To: to},
	})
	return nil
}

// Enter moves to the given state unless the machine is already there.
func (m *Machine) Enter(to State) error {
	if m.Current() == to {
		return nil
	}
	return m.Transition(to)
}

// Change is the payload for state change events.
type Change struct {
	From State
	To   State
}
