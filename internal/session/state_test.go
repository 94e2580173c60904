package session

import (
	"errors"
	"testing"

	"github.com/enginectl/enginectl/internal/testutil/testlog"
)

func TestStateTransitions(t *testing.T) {
	testlog.Start(t)
	allowed := []struct{ from, to State }{
		{StateUninitialized, StateModeSelected},
		{StateModeSelected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnecting, StateClosed},
		{StateConnected, StateReleased},
		{StateConnected, StateClosed},
		{StateReleased, StateConnected},
		{StateReleased, StateClosed},
	}
	for _, tc := range allowed {
		if !tc.from.canTransition(tc.to) {
			t.Fatalf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to State }{
		{StateUninitialized, StateConnected},
		{StateModeSelected, StateConnected},
		{StateConnected, StateUninitialized},
		{StateReleased, StateConnecting},
		{StateClosed, StateConnected},
		{StateClosed, StateReleased},
	}
	for _, tc := range denied {
		if tc.from.canTransition(tc.to) {
			t.Fatalf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestTransitionError(t *testing.T) {
	testlog.Start(t)
	s := &Session{state: StateClosed}
	if err := s.transition(StateConnected); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
	if s.state != StateClosed {
		t.Fatalf("failed transition must not move state, got %s", s.state)
	}
}
