package delivery

import (
	"fmt"
	"sync"
)

// State is a run's position in the delivery state machine.
type State string

const (
	StateIdle       State = "IDLE"
	StateValidating State = "VALIDATING"
	StateConnecting State = "CONNECTING"
	StateStreaming  State = "STREAMING"
	StateFinalizing State = "FINALIZING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

var transitions = map[State][]State{
	StateIdle:       {StateValidating},
	StateValidating: {StateConnecting, StateStreaming, StateFinalizing},
	StateConnecting: {StateStreaming, StateFinalizing},
	StateStreaming:  {StateFinalizing},
	StateFinalizing: {StateCompleted, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type stateMachine struct {
	mu      sync.Mutex
	current State
	history []State
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle, history: []State{StateIdle}}
}

func (m *stateMachine) advance(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, next := range transitions[m.current] {
		if next == to {
			m.current = to
			m.history = append(m.history, to)
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", m.current, to)
}

func (m *stateMachine) state() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) path() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history...)
}
