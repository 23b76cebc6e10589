// Package chat is the Bubble Tea front end of the harness. It renders the
// orchestrator's state snapshots and turns key presses into actions.
package chat

import "anvil/internal/domain"

// StateMsg delivers an orchestrator event with the state the reducer
// produced for it.
type StateMsg struct {
	Event domain.Event
	State domain.HarnessState
}

// DispatchDoneMsg reports the outcome of an action handed to the harness.
type DispatchDoneMsg struct {
	Err error
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
