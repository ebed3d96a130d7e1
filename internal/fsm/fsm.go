// Package fsm models the per-connection authentication lifecycle of the
// control channel.
package fsm

import "fmt"

type State string

type Event string

const (
	StateUnauth         State = "unauth"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateClosed         State = "closed"
	StateRejected       State = "rejected"
)

const (
	// EventOpen fires when the transport connection is accepted and the
	// handshake timer starts.
	EventOpen Event = "open"
	// EventAuthAccept fires on a valid AUTH message.
	EventAuthAccept Event = "auth_accept"
	// EventAuthReject fires on an invalid, malformed, or timed-out handshake.
	EventAuthReject Event = "auth_reject"
	// EventClose fires on any transport teardown.
	EventClose Event = "close"
)

func Transition(current State, event Event) (State, error) {
	// Teardown is legal from every state and idempotent; a rejected
	// connection stays rejected.
	if event == EventClose {
		if current == StateRejected {
			return StateRejected, nil
		}
		return StateClosed, nil
	}

	switch current {
	case StateUnauth:
		switch event {
		case EventOpen:
			return StateAuthenticating, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAuthenticating:
		switch event {
		case EventAuthAccept:
			return StateAuthenticated, nil
		case EventAuthReject:
			return StateRejected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAuthenticated, StateClosed, StateRejected:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
