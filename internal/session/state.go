package session

import (
	"errors"
	"fmt"
)

var ErrBadTransition = errors.New("session: invalid state transition")

// State is the session lifecycle position. Transitions follow the fixed
// table below; anything else is a programming error.
type State int

const (
	StateUninitialized State = iota
	StateModeSelected
	StateConnecting
	StateConnected
	StateReleased
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateModeSelected:
		return "mode_selected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReleased:
		return "released"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateUninitialized: {StateModeSelected},
	StateModeSelected:  {StateConnecting},
	StateConnecting:    {StateConnected, StateClosed},
	StateConnected:     {StateReleased, StateClosed},
	// A released session can be reattached or finally closed.
	StateReleased: {StateConnected, StateClosed},
	StateClosed:   {},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *Session) transition(to State) error {
	if !s.state.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, s.state, to)
	}
	s.state = to
	return nil
}
