// Package run governs a bot's run lifecycle: the transition table, the
// live-arming protocol, and the control operations that drive both.
package run

import (
	"fmt"
)

// State is a run lifecycle state. KILL_SWITCHED is absorbing; there is no
// escape without an external reset.
type State string

const (
	StateStopped      State = "STOPPED"
	StateStarting     State = "STARTING"
	StateRunning      State = "RUNNING"
	StatePausing      State = "PAUSING"
	StatePaused       State = "PAUSED"
	StateStopping     State = "STOPPING"
	StateKillSwitched State = "KILL_SWITCHED"
)

// Action is a user-initiated control request.
type Action string

const (
	ActionStart Action = "start"
	ActionPause Action = "pause"
	ActionStop  Action = "stop"
	ActionKill  Action = "kill"
)

// InvalidTransitionError reports an action not in the table for the current
// state. No state mutation occurs when it is returned.
type InvalidTransitionError struct {
	From   State
	Action Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s from %s", e.Action, e.From)
}

// transitions is the full table; anything absent is invalid.
var transitions = map[State]map[Action]State{
	StateStopped: {
		ActionStart: StateStarting,
		ActionKill:  StateKillSwitched,
	},
	StateStarting: {
		ActionStop: StateStopping,
		ActionKill: StateKillSwitched,
	},
	StateRunning: {
		ActionPause: StatePausing,
		ActionStop:  StateStopping,
		ActionKill:  StateKillSwitched,
	},
	StatePausing: {
		ActionStop: StateStopping,
		ActionKill: StateKillSwitched,
	},
	StatePaused: {
		ActionStart: StateStarting,
		ActionStop:  StateStopping,
		ActionKill:  StateKillSwitched,
	},
	StateStopping: {
		ActionKill: StateKillSwitched,
	},
	StateKillSwitched: {},
}

// Next validates one transition and returns the resulting state.
func Next(from State, action Action) (State, error) {
	row, ok := transitions[from]
	if !ok {
		return "", &InvalidTransitionError{From: from, Action: action}
	}
	next, ok := row[action]
	if !ok {
		return "", &InvalidTransitionError{From: from, Action: action}
	}
	return next, nil
}

// Settle resolves the transient in-motion states once their work completes.
// It is internal completion, not a user action, so it lives outside the table.
func Settle(s State) (State, bool) {
	switch s {
	case StateStarting:
		return StateRunning, true
	case StatePausing:
		return StatePaused, true
	case StateStopping:
		return StateStopped, true
	default:
		return s, false
	}
}

// Terminal reports whether a state can never be left by a user action.
func Terminal(s State) bool {
	return s == StateKillSwitched
}
