package session

import (
	"errors"
	"fmt"
)

// State is the externally observable session state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateRecognizing  State = "recognizing"
	StateError        State = "error"
)

// ErrInvalidTransition is returned when an operation is not allowed from
// the current state. The session is left unchanged.
var ErrInvalidTransition = errors.New("invalid session transition")

// allowed lists the states each operation may start from.
var allowed = map[string][]State{
	"connect": {StateDisconnected, StateError},
	"start":   {StateConnected},
	"stop":    {StateRecognizing},
}

func checkTransition(op string, from State) error {
	for _, s := range allowed[op] {
		if s == from {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, from)
}
