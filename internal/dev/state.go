package dev

import "sync/atomic"

// State is the dev server lifecycle state.
type State int32

const (
	StateBooting State = iota
	StateServing
	StateReloading
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateServing:
		return "serving"
	case StateReloading:
		return "reloading"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// validTransitions lists the allowed moves. Stopped is terminal.
var validTransitions = map[State][]State{
	StateBooting:   {StateServing, StateStopped},
	StateServing:   {StateReloading, StateStopped},
	StateReloading: {StateServing, StateStopped},
}

type stateMachine struct {
	cur      atomic.Int32
	onChange func(from, to State)
}

func (m *stateMachine) load() State {
	return State(m.cur.Load())
}

// transition moves to next if allowed and reports whether it did.
func (m *stateMachine) transition(next State) bool {
	for {
		cur := m.load()
		allowed := false
		for _, s := range validTransitions[cur] {
			if s == next {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
		if m.cur.CompareAndSwap(int32(cur), int32(next)) {
			if m.onChange != nil {
				m.onChange(cur, next)
			}
			return true
		}
	}
}
