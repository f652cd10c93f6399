// Package fsm provides the table-driven state machines governing runs,
// tasks, requirements, hives, colonies and the requirement-analysis
// pipeline, plus the oscillation detector that catches A-B churn.
package fsm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/k-iijima/hiveforge/internal/akashic"
)

var (
	// ErrInvalidTransition indicates the event is not legal in the
	// current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardRejected indicates a legal transition whose guard declined.
	ErrGuardRejected = errors.New("transition guard rejected")
)

// Guard decides whether a legal transition may fire for this event.
type Guard func(e *akashic.Event) bool

// transitionKey indexes the table by source state and event type.
type transitionKey struct {
	from      string
	eventType akashic.EventType
}

// transition is one table entry.
type transition struct {
	to    string
	guard Guard
}

// Machine is a table-driven state machine. Transitions are keyed on
// (current state, event type); a key may carry several guarded targets,
// tried in registration order, so one event can branch on payload fields.
// Machines are safe for concurrent use.
type Machine struct {
	name string

	mu      sync.RWMutex
	state   string
	history []string
	table   map[transitionKey][]transition
}

// NewMachine creates a machine in the initial state with an empty table.
func NewMachine(name, initial string) *Machine {
	return &Machine{
		name:    name,
		state:   initial,
		history: []string{initial},
		table:   map[transitionKey][]transition{},
	}
}

// AddTransition registers (from, eventType) → to.
func (m *Machine) AddTransition(from string, eventType akashic.EventType, to string) *Machine {
	return m.AddGuardedTransition(from, eventType, to, nil)
}

// AddGuardedTransition registers a transition with a guard. Guarded
// entries for the same key are evaluated in the order added; an unguarded
// entry acts as the fallback.
func (m *Machine) AddGuardedTransition(from string, eventType akashic.EventType, to string, guard Guard) *Machine {
	key := transitionKey{from: from, eventType: eventType}
	m.table[key] = append(m.table[key], transition{to: to, guard: guard})
	return m
}

// State returns the current state.
func (m *Machine) State() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// History returns the visited states including the initial one.
func (m *Machine) History() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}

// CanFire reports whether the event type is legal in the current state,
// ignoring guards.
func (m *Machine) CanFire(eventType akashic.EventType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.table[transitionKey{from: m.state, eventType: eventType}]
	return ok
}

// Fire applies an event, returning the new state. Illegal transitions and
// guard rejections leave the state untouched.
func (m *Machine) Fire(e *akashic.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates, ok := m.table[transitionKey{from: m.state, eventType: e.Type}]
	if !ok {
		return m.state, fmt.Errorf("%w: %s cannot accept %s in state %s",
			ErrInvalidTransition, m.name, e.Type, m.state)
	}
	for _, tr := range candidates {
		if tr.guard == nil || tr.guard(e) {
			m.state = tr.to
			m.history = append(m.history, tr.to)
			return m.state, nil
		}
	}
	return m.state, fmt.Errorf("%w: %s on %s in state %s",
		ErrGuardRejected, m.name, e.Type, m.state)
}

// ForceState sets the state directly. Used when rebuilding a machine from
// a projection rather than replaying events through it.
func (m *Machine) ForceState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.history = append(m.history, state)
}
