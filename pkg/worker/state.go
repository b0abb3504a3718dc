package worker

import (
	"fmt"
	"slices"
)

// State is a lifecycle state of a manager.
type State string

const (
	StateUninstalled State = "uninstalled"
	StateInstalling  State = "installing"
	StateWaiting     State = "waiting"
	StateActivating  State = "activating"
	StateActive      State = "active"
	// StateRedundant is terminal: the manager was replaced or closed.
	StateRedundant State = "redundant"
)

// transitions lists the legal successors of each state. Redundant is
// reachable from every state and handled separately.
var transitions = map[State][]State{
	StateUninstalled: {StateInstalling},
	StateInstalling:  {StateInstalling, StateWaiting},
	StateWaiting:     {StateInstalling, StateActivating},
	StateActivating:  {StateActive, StateWaiting},
	StateActive:      nil,
	StateRedundant:   nil,
}

// transition moves the manager from its current state to next.
func (m *Manager) transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next != StateRedundant && !slices.Contains(transitions[m.state], next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, m.state, next)
	}

	prev := m.state
	m.state = next
	stateTransitions.WithLabelValues(string(next)).Inc()

	m.logger.Debug().
		Str("from", string(prev)).
		Str("state", string(next)).
		Msg("State transition")
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// requireState returns ErrInvalidState unless the manager is in one of states.
func (m *Manager) requireState(states ...State) error {
	if s := m.State(); !slices.Contains(states, s) {
		return fmt.Errorf("%w: %s", ErrInvalidState, s)
	}
	return nil
}
