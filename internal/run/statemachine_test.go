package run

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	valid := []struct {
		from   State
		action Action
		want   State
	}{
		{StateStopped, ActionStart, StateStarting},
		{StateStopped, ActionKill, StateKillSwitched},
		{StateStarting, ActionStop, StateStopping},
		{StateStarting, ActionKill, StateKillSwitched},
		{StateRunning, ActionPause, StatePausing},
		{StateRunning, ActionStop, StateStopping},
		{StateRunning, ActionKill, StateKillSwitched},
		{StatePausing, ActionStop, StateStopping},
		{StatePausing, ActionKill, StateKillSwitched},
		{StatePaused, ActionStart, StateStarting},
		{StatePaused, ActionStop, StateStopping},
		{StatePaused, ActionKill, StateKillSwitched},
		{StateStopping, ActionKill, StateKillSwitched},
	}
	allowed := make(map[State]map[Action]bool)
	for _, tc := range valid {
		got, err := Next(tc.from, tc.action)
		if err != nil {
			t.Errorf("Next(%s, %s): unexpected error %v", tc.from, tc.action, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tc.from, tc.action, got, tc.want)
		}
		if allowed[tc.from] == nil {
			allowed[tc.from] = make(map[Action]bool)
		}
		allowed[tc.from][tc.action] = true
	}

	// Everything not listed above must be rejected without mutation.
	states := []State{StateStopped, StateStarting, StateRunning, StatePausing, StatePaused, StateStopping, StateKillSwitched}
	actions := []Action{ActionStart, ActionPause, ActionStop, ActionKill}
	for _, from := range states {
		for _, action := range actions {
			if allowed[from][action] {
				continue
			}
			if _, err := Next(from, action); err == nil {
				t.Errorf("Next(%s, %s): expected invalid transition", from, action)
			} else {
				var invalid *InvalidTransitionError
				if !errors.As(err, &invalid) {
					t.Errorf("Next(%s, %s): error type %T", from, action, err)
				}
			}
		}
	}
}

func TestKillSwitchedIsAbsorbing(t *testing.T) {
	for _, action := range []Action{ActionStart, ActionPause, ActionStop, ActionKill} {
		if _, err := Next(StateKillSwitched, action); err == nil {
			t.Errorf("Next(KILL_SWITCHED, %s) should fail", action)
		}
	}
	if !Terminal(StateKillSwitched) {
		t.Error("KILL_SWITCHED should be terminal")
	}
	if Terminal(StateStopped) {
		t.Error("STOPPED should not be terminal")
	}
}

func TestSettle(t *testing.T) {
	cases := []struct {
		in      State
		want    State
		settled bool
	}{
		{StateStarting, StateRunning, true},
		{StatePausing, StatePaused, true},
		{StateStopping, StateStopped, true},
		{StateRunning, StateRunning, false},
		{StateKillSwitched, StateKillSwitched, false},
	}
	for _, tc := range cases {
		got, ok := Settle(tc.in)
		if got != tc.want || ok != tc.settled {
			t.Errorf("Settle(%s) = (%s, %v), want (%s, %v)", tc.in, got, ok, tc.want, tc.settled)
		}
	}
}
