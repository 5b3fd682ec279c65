// Package controller implements the Constellation controller role:
// discovering satellites via CHIRP, sending them CSCP commands, and
// aggregating their CMDP log/metric streams.
package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/cmdp"
	"github.com/constellation-daq/constellation-core/cscp"
	"github.com/constellation-daq/constellation-core/logging"
)

// Controller tracks every CHIRP-discovered CONTROL service and lazily dials
// a cscp.Client for each, plus one shared cmdp.Subscriber aggregating every
// discovered MONITORING service's log/metric stream.
type Controller struct {
	listener *chirp.Listener
	cmdp     *cmdp.Subscriber
	logger   logging.Logger

	mu       sync.Mutex
	control  map[string]chirp.ServiceDescriptor // host -> CONTROL descriptor
	clients  map[string]*cscp.Client
	dialSelf string
}

// New builds a Controller that discovers satellites through listener
// (already wired to a chirp.Manager's multicast socket) and forwards every
// CMDP record to onRecord.
func New(listener *chirp.Listener, name string, onRecord func(host string, msg cmdp.Message), logger logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Noop()
	}
	c := &Controller{
		listener: listener,
		cmdp:     cmdp.NewSubscriber(onRecord, logger),
		logger:   logging.Named(logger, "controller"),
		control:  make(map[string]chirp.ServiceDescriptor),
		clients:  make(map[string]*cscp.Client),
		dialSelf: name,
	}
	listener.OnDiscovery(c.handleDiscovery)
	for _, svc := range listener.Discovered() {
		c.handleDiscovery(chirp.MessageOffer, svc)
	}
	return c
}

func (c *Controller) handleDiscovery(kind chirp.MessageType, svc chirp.ServiceDescriptor) {
	c.cmdp.HandleDiscovery(kind, svc)
	if svc.Service != chirp.ServiceControl {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case chirp.MessageOffer:
		c.control[svc.HostName] = svc
	case chirp.MessageDepart:
		delete(c.control, svc.HostName)
		if client, ok := c.clients[svc.HostName]; ok {
			client.Close()
			delete(c.clients, svc.HostName)
		}
	}
}

// Satellites returns the host names of every currently discovered CONTROL service.
func (c *Controller) Satellites() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.control))
	for host := range c.control {
		out = append(out, host)
	}
	return out
}

// Call sends verb to the satellite named host, dialing it on first use and
// reusing the connection afterwards.
func (c *Controller) Call(host, verb string, payload []byte, timeout time.Duration) (cscp.Reply, error) {
	client, err := c.clientFor(host)
	if err != nil {
		return cscp.Reply{}, err
	}
	return client.Call(verb, payload, timeout)
}

// CallAll sends verb to every currently discovered satellite, returning each
// host's reply (or error) keyed by host name.
func (c *Controller) CallAll(verb string, payload []byte, timeout time.Duration) map[string]cscp.Reply {
	hosts := c.Satellites()
	results := make(map[string]cscp.Reply, len(hosts))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			reply, err := c.Call(host, verb, payload, timeout)
			if err != nil {
				reply = cscp.Reply{Type: cscp.ReplyError, Description: err.Error()}
			}
			mu.Lock()
			results[host] = reply
			mu.Unlock()
		}(host)
	}
	wg.Wait()
	return results
}

// Subscribe adds a global CMDP topic subscription applied to every
// discovered satellite.
func (c *Controller) Subscribe(topicPrefix string) { c.cmdp.Subscribe(topicPrefix) }

// Unsubscribe removes a global CMDP topic subscription.
func (c *Controller) Unsubscribe(topicPrefix string) { c.cmdp.Unsubscribe(topicPrefix) }

func (c *Controller) clientFor(host string) (*cscp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[host]; ok {
		return client, nil
	}
	svc, ok := c.control[host]
	if !ok {
		return nil, fmt.Errorf("controller: %s has not been discovered", host)
	}
	client, err := cscp.Dial(svc.URI(), c.dialSelf, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("controller: dial %s: %w", host, err)
	}
	c.clients[host] = client
	return client, nil
}

// Stop disconnects from every satellite and stops the CMDP subscriber.
func (c *Controller) Stop() {
	c.mu.Lock()
	for _, client := range c.clients {
		client.Close()
	}
	c.clients = make(map[string]*cscp.Client)
	c.mu.Unlock()
	c.cmdp.Stop()
}
