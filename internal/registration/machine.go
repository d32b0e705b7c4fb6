package registration

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"rcsd/internal/bus"
)

// State represents the IMS registration state of the stack.
type State string

const (
	Unregistered  State = "UNREGISTERED"
	Registering   State = "REGISTERING"
	Registered    State = "REGISTERED"
	Deregistering State = "DEREGISTERING"
	Failed        State = "FAILED"
)

// validTransitions defines allowed registration state transitions.
var validTransitions = map[State][]State{
	Unregistered:  {Registering},
	Registering:   {Registered, Failed, Unregistered},
	Registered:    {Deregistering, Failed},
	Deregistering: {Unregistered, Failed},
	Failed:        {Registering, Unregistered},
}

// Machine tracks and enforces registration state transitions. Services
// that require an active registration (group chat initiation, capability
// publication) consult IsRegistered before proceeding.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Unregistered.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Unregistered,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsRegistered reports whether the stack currently holds an active
// registration.
func (m *Machine) IsRegistered() bool {
	return m.Current() == Registered
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid registration transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "registration.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for registration change events.
type StatusChange struct {
	From State
	To   State
}
