package fsm

import "fmt"

// InvalidFSMTransitionError is raised by react when the current state has no
// transition arc for the requested Transition. CSCP translates
// this to an INVALID reply.
type InvalidFSMTransitionError struct {
	From       State
	Transition Transition
}

func (e *InvalidFSMTransitionError) Error() string {
	return fmt.Sprintf("fsm: transition %q is not valid from state %s", e.Transition, e.From)
}

// NewInvalidFSMTransitionError builds an InvalidFSMTransitionError.
func NewInvalidFSMTransitionError(from State, t Transition) *InvalidFSMTransitionError {
	return &InvalidFSMTransitionError{From: from, Transition: t}
}
