package turn

import (
	"github.com/pkg/errors"
)

// State is the lifecycle position of a single turn.
type State string

const (
	StateIdle       State = "idle"
	StateSending    State = "sending"
	StateStreaming  State = "streaming"
	StateCommitting State = "committing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var (
	ErrStreamTruncated   = errors.New("stream ended before the turn was complete")
	ErrTurnCanceled      = errors.New("turn canceled")
	ErrInvalidTransition = errors.New("invalid turn state transition")
)

// DefaultFailureNotice is appended as the assistant answer when a turn fails.
const DefaultFailureNotice = "Error connecting to the server. Check that the API is running."

var transitions = map[State][]State{
	StateIdle:       {StateSending},
	StateSending:    {StateStreaming, StateFailed},
	StateStreaming:  {StateCommitting, StateFailed},
	StateCommitting: {StateDone, StateFailed},
}

func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
