package fsm

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/constellation-daq/constellation-core/config"
	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/obsv"
)

// StateChangeCallback is invoked once per state entry, in registration
// order. Implementations must not call back into the Machine synchronously.
type StateChangeCallback func(new State)

// Machine drives a satellite through its lifecycle. It is safe for
// concurrent use: react and the query methods all take the internal lock.
type Machine struct {
	hooks  Hooks
	logger logging.Logger

	mu            sync.Mutex
	state         State
	status        string
	runIdentifier string
	callbacks     []StateChangeCallback

	runDone    chan struct{}
	stopRun    chan struct{}
	runPending bool // true once a Running task has been spawned and not yet joined

	// lastStableBeforeInterrupt remembers which of ORBIT/RUN was active when
	// interrupting began, since by the time the worker runs the state has
	// already moved on.
	lastStableBeforeInterrupt State

	// interruptPending records an interrupt request made while the machine
	// was mid-transition; it is resolved the moment the machine next settles
	// into a steady state.
	interruptPending bool
}

// New builds a Machine in the NEW state.
func New(hooks Hooks, logger logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Machine{
		hooks:  hooks,
		logger: logging.Named(logger, "fsm"),
		state:  StateNew,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the last status message (set on failure, or by a hook).
func (m *Machine) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// RunIdentifier returns the run identifier passed to the last `start`.
func (m *Machine) RunIdentifier() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runIdentifier
}

// OnStateChange registers a callback fired on every state entry, in
// registration order.
func (m *Machine) OnStateChange(cb StateChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// React drives transition t with an optional payload: a *config.Configuration
// for initialize/reconfigure, a run-identifier string for start, and nil
// otherwise. It returns InvalidFSMTransitionError if t is not legal from the
// current state.
func (m *Machine) React(t Transition, payload any) error {
	_, span := otel.Tracer(obsv.TracerName).Start(context.Background(), "fsm.transition",
		trace.WithAttributes(attribute.String("fsm.transition", string(t))),
	)
	defer span.End()

	m.mu.Lock()
	from := m.state
	to, ok := Allowed(from, t)
	if !ok {
		m.mu.Unlock()
		span.SetAttributes(attribute.Bool("fsm.rejected", true))
		return NewInvalidFSMTransitionError(from, t)
	}
	if t == TransitionReconfigure {
		if rs, supports := m.hooks.(ReconfigureSupporter); supports && !rs.ReconfigureSupported() {
			m.mu.Unlock()
			span.SetAttributes(attribute.Bool("fsm.rejected", true))
			return NewInvalidFSMTransitionError(from, t)
		}
	}
	m.state = to
	if t == TransitionStart {
		runID, _ := payload.(string)
		if runID == "" {
			// leaves an unspecified run identifier to the
			// satellite; default to a fresh uuid rather than an empty string.
			runID = uuid.NewString()
		}
		m.runIdentifier = runID
		payload = runID
	}
	if t == TransitionInterrupt {
		m.lastStableBeforeInterrupt = from
	}
	callbacks := append([]StateChangeCallback(nil), m.callbacks...)
	m.mu.Unlock()

	span.SetAttributes(attribute.String("fsm.from", string(from)), attribute.String("fsm.to", string(to)))
	obsv.RecordFSMTransition(string(to))
	if to == StateError {
		obsv.RecordFSMFailure()
	}
	m.logger.Info("state transition", "from", from, "to", to, "transition", t)

	for _, cb := range callbacks {
		cb(to)
	}

	m.afterTransition(from, to, payload)
	return nil
}

// afterTransition spawns the worker task a newly-entered state requires, if any.
func (m *Machine) afterTransition(from, to State, payload any) {
	switch {
	case to == StateRun:
		m.spawnRunWorker()
	case to == StateStopping:
		m.spawnStoppingWorker()
	case to.IsTransitionalState():
		m.spawnTransitionalWorker(to, payload)
	}
	if to.IsSteady() {
		m.resolvePendingInterrupt(to)
	}
}

// resolvePendingInterrupt fires a deferred Interrupt request once the
// machine settles into steady state to: fires the interrupt transition if to
// is ORBIT or RUN, otherwise the request is simply dropped.
func (m *Machine) resolvePendingInterrupt(to State) {
	m.mu.Lock()
	if !m.interruptPending {
		m.mu.Unlock()
		return
	}
	m.interruptPending = false
	m.mu.Unlock()

	if to != StateOrbit && to != StateRun {
		return
	}
	go func() {
		if err := m.React(TransitionInterrupt, nil); err != nil {
			m.logger.Debug("deferred interrupt no-op", "state", to, "error", err)
		}
	}()
}

func (m *Machine) spawnTransitionalWorker(state State, payload any) {
	go func() {
		var err error
		switch state {
		case StateInitializing:
			cfg, _ := payload.(*config.Configuration)
			err = m.hooks.Initializing(cfg)
		case StateLaunching:
			err = m.hooks.Launching()
		case StateLanding:
			err = m.hooks.Landing()
		case StateReconfiguring:
			cfg, _ := payload.(*config.Configuration)
			err = m.hooks.Reconfiguring(cfg)
		case StateStarting:
			runID, _ := payload.(string)
			err = m.hooks.Starting(runID)
		case StateInterrupting:
			prev := m.interruptedFrom()
			err = m.hooks.Interrupting(prev)
		}
		m.finishTransitional(state, err)
	}()
}

// spawnRunWorker launches the RUN state's body in its own task, tracked so
// `stop` can signal it and wait for it to finish before firing `stopped`.
func (m *Machine) spawnRunWorker() {
	m.mu.Lock()
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	m.stopRun = stopCh
	m.runDone = doneCh
	m.runPending = true
	m.mu.Unlock()

	go func() {
		err := m.hooks.Running(stopCh)
		close(doneCh)
		if err != nil {
			m.fail(err)
		}
	}()
}

// spawnStoppingWorker signals the run worker to stop, waits for it, then
// runs the Stopping hook and fires `stopped`.
func (m *Machine) spawnStoppingWorker() {
	m.mu.Lock()
	stopCh := m.stopRun
	doneCh := m.runDone
	m.mu.Unlock()

	go func() {
		if stopCh != nil {
			select {
			case <-stopCh:
			default:
				close(stopCh)
			}
		}
		if doneCh != nil {
			<-doneCh
		}
		m.mu.Lock()
		m.runPending = false
		m.mu.Unlock()

		err := m.hooks.Stopping()
		m.finishTransitional(StateStopping, err)
	}()
}

func (m *Machine) finishTransitional(state State, err error) {
	if err != nil {
		m.fail(err)
		return
	}
	completion := transitionalCompletion[state]
	// The completion transition is always legal from the state that just
	// finished; react's own lock serializes this against any concurrent caller.
	_ = m.React(completion, nil)
}

// fail drives the machine to ERROR with err's message as status and invokes
// the user Failure hook with the previously-active state.
func (m *Machine) fail(err error) {
	m.mu.Lock()
	prev := m.state
	m.status = err.Error()
	m.mu.Unlock()

	m.logger.Error("hook failed, transitioning to ERROR", "from", prev, "error", err)
	_ = m.React(TransitionFailure, nil)
	m.hooks.Failure(prev, err.Error())
}

// Fail is the public entry point for a satellite to report a runtime error
// outside of a transitional hook: it drives
// `failure` with msg as status.
func (m *Machine) Fail(msg string) {
	m.mu.Lock()
	prev := m.state
	m.status = msg
	m.mu.Unlock()

	_ = m.React(TransitionFailure, nil)
	m.hooks.Failure(prev, msg)
}

// interruptedFrom returns ORBIT or RUN, whichever the machine was in just
// before entering interrupting; defaults to ORBIT if indeterminate.
func (m *Machine) interruptedFrom() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastStableBeforeInterrupt != "" {
		return m.lastStableBeforeInterrupt
	}
	return StateOrbit
}

// Interrupt requests an interrupt: idempotent and non-blocking for the
// caller. If the machine is currently in ORBIT or RUN, it fires `interrupt`
// in its own task so the caller never waits on the transitional worker. If
// the machine is mid-transition, the request is held and resolved once the
// machine reaches its next steady state: fired if that state is ORBIT or
// RUN, dropped otherwise. If the machine is already steady in some other
// state (NEW, INIT, SAFE, ERROR), it is a no-op.
func (m *Machine) Interrupt() {
	m.mu.Lock()
	cur := m.state
	if cur == StateOrbit || cur == StateRun {
		m.mu.Unlock()
		go func() {
			if err := m.React(TransitionInterrupt, nil); err != nil {
				m.logger.Debug("interrupt no-op", "state", cur, "error", err)
			}
		}()
		return
	}
	if !cur.IsSteady() {
		m.interruptPending = true
	}
	m.mu.Unlock()
}

// ReplyType mirrors CSCP's reply classification for a react outcome.
type ReplyType string

const (
	ReplySuccess ReplyType = "SUCCESS"
	ReplyInvalid ReplyType = "INVALID"
)

// ReactCommand is the CSCP-facing entry point:
// it attempts transition cmd with payload and reports the outcome as a CSCP
// reply type plus a human-readable description, without exposing the raw
// FSM error type to the protocol layer.
func (m *Machine) ReactCommand(cmd Transition, payload any) (ReplyType, string) {
	if err := m.React(cmd, payload); err != nil {
		return ReplyInvalid, err.Error()
	}
	return ReplySuccess, "transition " + string(cmd) + " accepted"
}
