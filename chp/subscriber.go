package chp

import (
	"time"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/subscriberpool"
)

// Subscriber is CHP's side of the subscriber-socket pool it shares with
// cmdp (a conservative union of two divergent reference subscriber-pool
// revisions into one generic subscriberpool.Pool[M]). CHP has no
// per-topic filtering — every connected sender's heartbeats all matter to
// the watchdog — so Subscriber never calls Subscribe/SubscribeExtra; a
// single implicit subscription to every message a connection delivers is
// exactly what a bare, topicless connection gives.
type Subscriber struct {
	pool *subscriberpool.Pool[Message]
}

// NewSubscriber builds a Subscriber that forwards every heartbeat received
// over any CHIRP-discovered HEARTBEAT service straight to manager.Observe.
// Register its HandleDiscovery method with a chirp.Listener via OnDiscovery.
func NewSubscriber(manager *Manager, logger logging.Logger) *Subscriber {
	s := &Subscriber{}
	s.pool = subscriberpool.New[Message](chirp.ServiceHeartbeat, Decode, func(_ string, msg Message) {
		manager.Observe(msg, time.Now().UTC())
	}, logger)
	return s
}

// HandleDiscovery is a chirp.DiscoveryCallback.
func (s *Subscriber) HandleDiscovery(kind chirp.MessageType, svc chirp.ServiceDescriptor) {
	s.pool.HandleDiscovery(kind, svc)
}

// Hosts returns the currently connected sender host names.
func (s *Subscriber) Hosts() []string { return s.pool.Hosts() }

// Stop disconnects from every connected sender.
func (s *Subscriber) Stop() { s.pool.Stop() }
