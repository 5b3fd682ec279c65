package fsm

import "github.com/constellation-daq/constellation-core/config"

// Hooks is the user satellite's lifecycle implementation. The FSM calls
// exactly one hook method per transitional-state entry, in its own worker
// task, and automatically fires the matching completion transition when the
// hook returns nil.
type Hooks interface {
	Initializing(cfg *config.Configuration) error
	Launching() error
	Landing() error
	Reconfiguring(cfg *config.Configuration) error
	Starting(runIdentifier string) error
	Stopping() error
	// Running executes the RUN state's body. It must return promptly after
	// stop is closed.
	Running(stop <-chan struct{}) error
	// Interrupting runs when the FSM is driven to SAFE from ORBIT or RUN. prev
	// is the steady state the machine was in before interrupting began.
	Interrupting(prev State) error
	// Failure is invoked after any hook error drives the machine to ERROR.
	// prev is the state active when the failure occurred.
	Failure(prev State, reason string)
}

// ReconfigureSupporter is an optional Hooks extension: composition over
// inheritance for the occasional satellite-specific capability flag,
// rather than widening Hooks itself. A satellite whose
// Hooks implements it and returns false rejects `reconfigure` even though the
// transition table would otherwise allow it from ORBIT.
type ReconfigureSupporter interface {
	ReconfigureSupported() bool
}

// NoopHooks is a Hooks implementation whose lifecycle methods all succeed
// immediately; useful for tests that only exercise the FSM's transition
// bookkeeping, not a real satellite's behavior.
type NoopHooks struct{}

func (NoopHooks) Initializing(*config.Configuration) error { return nil }
func (NoopHooks) Launching() error                         { return nil }
func (NoopHooks) Landing() error                            { return nil }
func (NoopHooks) Reconfiguring(*config.Configuration) error { return nil }
func (NoopHooks) Starting(string) error                     { return nil }
func (NoopHooks) Stopping() error                            { return nil }
func (NoopHooks) Running(stop <-chan struct{}) error {
	<-stop
	return nil
}
func (NoopHooks) Interrupting(State) error {
	return nil
}
func (NoopHooks) Failure(State, string) {}
