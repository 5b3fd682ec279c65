package cmdp

import (
	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/subscriberpool"
)

// Subscriber is a controller-side CMDP consumer: it connects to every
// CHIRP-discovered MONITORING service and applies a topic subscription table
// (global topics plus per-host extras) via the shared subscriberpool.Pool.
// cmdp.Publisher is the opposite, producer side of the same protocol and
// implements its own connection/subscription bookkeeping because it is the
// one accepting connections rather than dialing them.
type Subscriber struct {
	pool *subscriberpool.Pool[Message]
}

// NewSubscriber builds a Subscriber delivering every decoded record to handler.
func NewSubscriber(handler func(host string, msg Message), logger logging.Logger) *Subscriber {
	return &Subscriber{pool: subscriberpool.New[Message](chirp.ServiceMonitoring, decode, handler, logger)}
}

// HandleDiscovery is a chirp.DiscoveryCallback. A departing host's extra
// subscriptions are dropped first, so a later re-offer from the same host
// name starts from a clean per-host subscription set rather than resurrecting
// stale extras through applyAllTopics.
func (s *Subscriber) HandleDiscovery(kind chirp.MessageType, svc chirp.ServiceDescriptor) {
	if kind == chirp.MessageDepart {
		s.pool.RemoveExtraSubscriptions(svc.HostName)
	}
	s.pool.HandleDiscovery(kind, svc)
}

// Subscribe adds a global topic prefix, applied to every connected and
// future sender (e.g. "LOG/WARNING" or "STAT/").
func (s *Subscriber) Subscribe(topicPrefix string) { s.pool.Subscribe(topicPrefix) }

// Unsubscribe removes a global topic prefix.
func (s *Subscriber) Unsubscribe(topicPrefix string) { s.pool.Unsubscribe(topicPrefix) }

// SubscribeExtra adds a topic prefix scoped to one host only, layered on top
// of the global subscription set.
func (s *Subscriber) SubscribeExtra(host, topicPrefix string) { s.pool.SubscribeExtra(host, topicPrefix) }

// UnsubscribeExtra removes a host-scoped topic prefix.
func (s *Subscriber) UnsubscribeExtra(host, topicPrefix string) {
	s.pool.UnsubscribeExtra(host, topicPrefix)
}

// RemoveExtraSubscriptions drops every host-scoped topic prefix for host,
// unsubscribing its connection from whatever isn't also covered globally.
func (s *Subscriber) RemoveExtraSubscriptions(host string) { s.pool.RemoveExtraSubscriptions(host) }

// Hosts returns the currently connected sender host names.
func (s *Subscriber) Hosts() []string { return s.pool.Hosts() }

// Stop disconnects from every connected sender.
func (s *Subscriber) Stop() { s.pool.Stop() }
