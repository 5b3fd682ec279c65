package chp

import (
	"net"
	"sync"
	"time"

	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/obsv"
	"github.com/constellation-daq/constellation-core/protocol"
)

// subscriberEntry pairs a connected watchdog's connection with its id, so
// a write failure's self-removal can drop exactly that entry
// (grounded on commbus/bus.go's subscriberEntry).
type subscriberEntry struct {
	id   uint64
	conn net.Conn
}

// Sender broadcasts CHP heartbeats to every connected watchdog on a fixed
// interval, plus an immediate extra heartbeat on every FSM state change
// (the "extrasystole").
type Sender struct {
	name     string
	interval time.Duration
	logger   logging.Logger

	listener net.Listener
	port     int

	mu        sync.Mutex
	subs      []subscriberEntry
	nextSubID uint64
	state     string

	stop chan struct{}
	done chan struct{}
}

// NewSender binds an ephemeral port and returns a Sender advertised as
// HEARTBEAT via CHIRP on that port.
func NewSender(host, name string, interval time.Duration, logger logging.Logger) (*Sender, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ln, port, err := protocol.BindEphemeral(host)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Sender{
		name:     name,
		interval: interval,
		logger:   logging.Named(logger, "chp.sender"),
		listener: ln,
		port:     port,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Port returns the bound ephemeral TCP port.
func (s *Sender) Port() int { return s.port }

// Run accepts watchdog connections and broadcasts heartbeats on s.interval
// until Stop is called.
func (s *Sender) Run() {
	defer close(s.done)
	go s.acceptLoop()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Sender) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.nextSubID++
		s.subs = append(s.subs, subscriberEntry{id: s.nextSubID, conn: conn})
		s.mu.Unlock()
	}
}

// OnStateChange is registered with the FSM to fire the extrasystole
// heartbeat immediately on every state transition.
func (s *Sender) OnStateChange(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.broadcast()
}

func (s *Sender) broadcast() {
	s.mu.Lock()
	state := s.state
	frames, err := Message{
		Sender:   s.name,
		Time:     time.Now().UTC(),
		State:    state,
		Interval: s.interval,
	}.Encode()
	subs := append([]subscriberEntry(nil), s.subs...)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to encode heartbeat", "error", err)
		return
	}

	var dead []uint64
	for _, sub := range subs {
		sub.conn.SetWriteDeadline(time.Now().Add(s.interval))
		if err := protocol.WriteMultipart(sub.conn, frames); err != nil {
			dead = append(dead, sub.id)
			sub.conn.Close()
		}
	}
	obsv.RecordChpSent()
	if len(dead) > 0 {
		s.removeSubs(dead)
	}
}

func (s *Sender) removeSubs(ids []uint64) {
	deadSet := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		deadSet[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if !deadSet[sub.id] {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
}

// Stop closes the listener, closes every subscriber connection, and waits
// for Run to return.
func (s *Sender) Stop() {
	close(s.stop)
	s.listener.Close()
	s.mu.Lock()
	for _, sub := range s.subs {
		sub.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}
