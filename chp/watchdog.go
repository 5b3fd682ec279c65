package chp

import (
	"sync"
	"time"

	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/obsv"
)

// DefaultClockSkewThreshold is the |now - msg.time| bound past which the
// watchdog logs a warning, used unless Manager.ClockSkewThreshold
// is overridden after construction.
const DefaultClockSkewThreshold = 3 * time.Second

// maxWake caps how long the worker sleeps between passes, so a remote whose
// very first heartbeat never arrives is still bounded by a wake-up.
const maxWake = 3 * time.Second

// DefaultLives is the life count assigned to a newly observed remote.
const DefaultLives = 3

// record is a watchdog's per-remote bookkeeping.
type record struct {
	interval      time.Duration
	lastHeartbeat time.Time
	lastState     string
	lastChecked   time.Time
	lives         int
}

// InterruptFunc is called when a remote's lives reach zero, or immediately
// if it is observed in ERROR or SAFE with lives remaining.
type InterruptFunc func(remote, reason string)

// Manager is the CHP watchdog: a single worker evaluating
// every tracked remote's liveness and firing InterruptFunc when a remote
// stops heartbeating on schedule.
type Manager struct {
	lives              int
	onInterrupt        InterruptFunc
	logger             logging.Logger
	ClockSkewThreshold time.Duration

	mu      sync.Mutex
	records map[string]*record

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewManager builds a Manager with the given default life count (0 uses
// DefaultLives) and interrupt callback.
func NewManager(lives int, onInterrupt InterruptFunc, logger logging.Logger) *Manager {
	if lives <= 0 {
		lives = DefaultLives
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Manager{
		lives:              lives,
		onInterrupt:        onInterrupt,
		logger:             logging.Named(logger, "chp.watchdog"),
		ClockSkewThreshold: DefaultClockSkewThreshold,
		records:            make(map[string]*record),
		wake:               make(chan struct{}, 1),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
}

// Observe updates remote's record on an inbound heartbeat:
// fields are refreshed, a clock-skew warning is logged if |now-msg.Time| >
// 3s, and lives are replenished unless state is ERROR or SAFE.
func (m *Manager) Observe(msg Message, now time.Time) {
	if skew := now.Sub(msg.Time); skew > m.ClockSkewThreshold || skew < -m.ClockSkewThreshold {
		m.logger.Warn("clock skew detected", "remote", msg.Sender, "skew", skew)
	}

	m.mu.Lock()
	r, ok := m.records[msg.Sender]
	if !ok {
		r = &record{lives: m.lives}
		m.records[msg.Sender] = r
	}
	r.interval = msg.Interval
	r.lastHeartbeat = now
	r.lastState = msg.State
	if msg.State != "ERROR" && msg.State != "SAFE" {
		r.lives = m.lives
	}
	m.mu.Unlock()

	obsv.RecordChpReceived(msg.Sender)
	m.wakeNow()
}

// GetRemoteState returns the last observed state for host, if any.
func (m *Manager) GetRemoteState(host string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[host]
	if !ok {
		return "", false
	}
	return r.lastState, true
}

// Run evaluates every tracked remote, sleeping until the earliest
// last_heartbeat+interval deadline or maxWake, whichever comes first, until
// Stop is called.
func (m *Manager) Run() {
	defer close(m.done)
	for {
		wait := m.tick(time.Now())
		select {
		case <-m.stop:
			return
		case <-m.wake:
		case <-time.After(wait):
		}
	}
}

// Stop signals the worker to exit and waits for it to return.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Manager) wakeNow() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// tick runs one evaluation pass over every tracked remote and returns how
// long the worker should sleep before its next pass.
func (m *Manager) tick(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	wait := maxWake
	for remote, r := range m.records {
		switch {
		case (r.lastState == "ERROR" || r.lastState == "SAFE") && r.lives > 0:
			r.lives = 0
			m.fireInterrupt(remote, "remote reported "+r.lastState)
		case now.Sub(r.lastHeartbeat) > r.interval && now.Sub(r.lastChecked) > r.interval:
			r.lastChecked = now
			r.lives--
			if r.lives <= 0 {
				m.fireInterrupt(remote, "heartbeat timeout")
			}
		}

		deadline := r.lastHeartbeat.Add(r.interval)
		if now.Sub(r.lastHeartbeat) > r.interval {
			// Already overdue: the next decrement fires one interval after
			// the last check, not one interval after the last heartbeat.
			deadline = r.lastChecked.Add(r.interval)
		}
		if remaining := deadline.Sub(now); remaining > 0 && remaining < wait {
			wait = remaining
		}
	}
	return wait
}

// fireInterrupt invokes onInterrupt outside the watchdog's own worker loop
// so a slow or reentrant callback never stalls liveness evaluation of other
// remotes.
func (m *Manager) fireInterrupt(remote, reason string) {
	obsv.RecordChpWatchdogInterrupt(remote, reason)
	if m.onInterrupt == nil {
		return
	}
	cb := m.onInterrupt
	go cb(remote, reason)
}
