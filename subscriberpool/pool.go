// Package subscriberpool implements the CHIRP-driven subscriber-socket pool
// shared by cmdp (log/metric topics) and chp (heartbeat, a single implicit
// topic): a conservative union of two divergent reference subscriber-pool
// designs into exactly one generic Pool[M] rather than a pool per protocol.
package subscriberpool

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/protocol"
)

// connectRetryInterval paces reconnection attempts against a host whose
// advertised port is not yet accepting connections.
const connectRetryInterval = 200 * time.Millisecond

// connectTimeout bounds how long Pool retries a single OFFER before giving up.
const connectTimeout = 5 * time.Second

// pollTimeout bounds each subscriber connection's blocking read, so Stop and
// subscription-frame writes are not starved by an idle connection.
const pollTimeout = 100 * time.Millisecond

// Decoder turns one connection's wire frames into a decoded message of type M.
type Decoder[M any] func(frames [][]byte) (M, error)

// Handler is invoked once per decoded message, named by the originating host.
type Handler[M any] func(host string, msg M)

type socketConn struct {
	id      string
	host    string
	conn    net.Conn
	stop    chan struct{}
	done    chan struct{}
}

// Pool maintains one socket per discovered ServiceIdentifier host, driven by
// CHIRP OFFER/DEPART notifications, and forwards every decoded message to a
// Handler. Two independent concerns are tracked: the connection table
// (connect/disconnect) and the subscription-topic tables (global topics,
// applied to every connection, plus per-host "extra" topics) — mirroring
// cmdp's own publisher-side split between connection bookkeeping and
// subscription bookkeeping (cmdp.Publisher / cmdp.prefixSet).
type Pool[M any] struct {
	service chirp.ServiceIdentifier
	decode  Decoder[M]
	handler Handler[M]
	logger  logging.Logger

	connMu  sync.Mutex
	sockets map[string]*socketConn // keyed by host name

	topicMu      sync.Mutex
	globalTopics map[string]int
	extraTopics  map[string]map[string]int // host -> topic -> refcount
}

// New builds a Pool for service, decoding frames with decode and delivering
// messages to handler. It does not connect to anything until HandleDiscovery
// observes an OFFER.
func New[M any](service chirp.ServiceIdentifier, decode Decoder[M], handler Handler[M], logger logging.Logger) *Pool[M] {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Pool[M]{
		service:      service,
		decode:       decode,
		handler:      handler,
		logger:       logging.Named(logger, "subscriberpool"),
		sockets:      make(map[string]*socketConn),
		globalTopics: make(map[string]int),
		extraTopics:  make(map[string]map[string]int),
	}
}

// HandleDiscovery is a chirp.DiscoveryCallback: register it with a
// chirp.Listener via OnDiscovery to drive this pool automatically. Discovery
// notifications for services other than p.service are ignored.
func (p *Pool[M]) HandleDiscovery(kind chirp.MessageType, svc chirp.ServiceDescriptor) {
	if svc.Service != p.service {
		return
	}
	switch kind {
	case chirp.MessageOffer:
		go p.connect(svc)
	case chirp.MessageDepart:
		p.disconnect(svc.HostName)
	}
}

// connect dials svc with retries (a fresh OFFER may race the remote socket's
// own bind-and-listen), then starts the connection's receive loop.
func (p *Pool[M]) connect(svc chirp.ServiceDescriptor) {
	p.connMu.Lock()
	if _, exists := p.sockets[svc.HostName]; exists {
		p.connMu.Unlock()
		return
	}
	p.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var conn net.Conn
	op := func() error {
		c, err := net.DialTimeout("tcp", svc.URI(), connectRetryInterval)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	boff := backoff.WithContext(backoff.NewConstantBackOff(connectRetryInterval), ctx)
	if err := backoff.Retry(op, boff); err != nil {
		p.logger.Warn("giving up connecting to offered service", "host", svc.HostName, "error", err)
		return
	}

	sc := &socketConn{id: uuid.NewString(), host: svc.HostName, conn: conn, stop: make(chan struct{}), done: make(chan struct{})}
	p.connMu.Lock()
	p.sockets[svc.HostName] = sc
	p.connMu.Unlock()

	p.applyAllTopics(sc)
	go p.readLoop(sc)
}

func (p *Pool[M]) disconnect(host string) {
	p.connMu.Lock()
	sc, ok := p.sockets[host]
	if ok {
		delete(p.sockets, host)
	}
	p.connMu.Unlock()
	if !ok {
		return
	}
	close(sc.stop)
	sc.conn.Close()
	<-sc.done
}

func (p *Pool[M]) readLoop(sc *socketConn) {
	defer close(sc.done)
	for {
		select {
		case <-sc.stop:
			return
		default:
		}
		sc.conn.SetReadDeadline(time.Now().Add(pollTimeout))
		frames, err := protocol.ReadMultipart(sc.conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			p.logger.Warn("subscriber connection closed", "host", sc.host, "error", err)
			p.connMu.Lock()
			delete(p.sockets, sc.host)
			p.connMu.Unlock()
			return
		}
		msg, err := p.decode(frames)
		if err != nil {
			p.logger.Warn("dropping malformed message", "host", sc.host, "error", err)
			continue
		}
		p.handler(sc.host, msg)
	}
}

// writeSubscription sends one raw XSUB-style subscription frame, the same
// wire shape cmdp.Publisher's subscriptionLoop parses.
func writeSubscription(conn net.Conn, subscribe bool, topic string) error {
	flag := byte(0x00)
	if subscribe {
		flag = 0x01
	}
	frame := append([]byte{flag}, []byte(topic)...)
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	return protocol.WriteMultipart(conn, [][]byte{frame})
}

func (p *Pool[M]) applyAllTopics(sc *socketConn) {
	p.topicMu.Lock()
	defer p.topicMu.Unlock()
	for topic, n := range p.globalTopics {
		if n > 0 {
			writeSubscription(sc.conn, true, topic)
		}
	}
	for topic, n := range p.extraTopics[sc.host] {
		if n > 0 {
			writeSubscription(sc.conn, true, topic)
		}
	}
}

func (p *Pool[M]) broadcastSubscription(subscribe bool, topic string) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	for _, sc := range p.sockets {
		writeSubscription(sc.conn, subscribe, topic)
	}
}

func (p *Pool[M]) broadcastSubscriptionTo(host string, subscribe bool, topic string) {
	p.connMu.Lock()
	sc, ok := p.sockets[host]
	p.connMu.Unlock()
	if ok {
		writeSubscription(sc.conn, subscribe, topic)
	}
}

// Subscribe adds topic to the global subscription set, applied to every
// current and future connection.
func (p *Pool[M]) Subscribe(topic string) {
	p.topicMu.Lock()
	p.globalTopics[topic]++
	first := p.globalTopics[topic] == 1
	p.topicMu.Unlock()
	if first {
		p.broadcastSubscription(true, topic)
	}
}

// Unsubscribe removes topic from the global subscription set once its
// refcount reaches zero.
func (p *Pool[M]) Unsubscribe(topic string) {
	p.topicMu.Lock()
	if p.globalTopics[topic] > 0 {
		p.globalTopics[topic]--
	}
	last := p.globalTopics[topic] == 0
	p.topicMu.Unlock()
	if last {
		p.broadcastSubscription(false, topic)
	}
}

// SetSubscriptionTopics replaces the entire global subscription set with topics.
func (p *Pool[M]) SetSubscriptionTopics(topics []string) {
	p.topicMu.Lock()
	old := p.globalTopics
	p.globalTopics = make(map[string]int, len(topics))
	for _, t := range topics {
		p.globalTopics[t]++
	}
	p.topicMu.Unlock()

	for t := range old {
		if _, keep := p.globalTopics[t]; !keep {
			p.broadcastSubscription(false, t)
		}
	}
	for t := range p.globalTopics {
		if _, had := old[t]; !had {
			p.broadcastSubscription(true, t)
		}
	}
}

// SubscribeExtra adds topic to host's extra subscription set, independent of
// the global set.
func (p *Pool[M]) SubscribeExtra(host, topic string) {
	p.topicMu.Lock()
	byTopic, ok := p.extraTopics[host]
	if !ok {
		byTopic = make(map[string]int)
		p.extraTopics[host] = byTopic
	}
	byTopic[topic]++
	first := byTopic[topic] == 1
	p.topicMu.Unlock()
	if first {
		p.broadcastSubscriptionTo(host, true, topic)
	}
}

// UnsubscribeExtra removes topic from host's extra subscription set once its
// refcount reaches zero.
func (p *Pool[M]) UnsubscribeExtra(host, topic string) {
	p.topicMu.Lock()
	byTopic, ok := p.extraTopics[host]
	last := false
	if ok && byTopic[topic] > 0 {
		byTopic[topic]--
		last = byTopic[topic] == 0
	}
	p.topicMu.Unlock()
	if last {
		p.broadcastSubscriptionTo(host, false, topic)
	}
}

// SetExtraSubscriptionTopics replaces host's entire extra subscription set.
func (p *Pool[M]) SetExtraSubscriptionTopics(host string, topics []string) {
	p.topicMu.Lock()
	old := p.extraTopics[host]
	byTopic := make(map[string]int, len(topics))
	for _, t := range topics {
		byTopic[t]++
	}
	p.extraTopics[host] = byTopic
	p.topicMu.Unlock()

	for t := range old {
		if _, keep := byTopic[t]; !keep {
			p.broadcastSubscriptionTo(host, false, t)
		}
	}
	for t := range byTopic {
		if _, had := old[t]; !had {
			p.broadcastSubscriptionTo(host, true, t)
		}
	}
}

// RemoveExtraSubscriptions clears every extra topic for host, e.g. once it
// departs, unsubscribing host's connection from each dropped topic that
// isn't also covered by the global subscription set.
func (p *Pool[M]) RemoveExtraSubscriptions(host string) {
	p.topicMu.Lock()
	byTopic, ok := p.extraTopics[host]
	delete(p.extraTopics, host)
	var toUnsub []string
	if ok {
		for topic, n := range byTopic {
			if n > 0 && p.globalTopics[topic] == 0 {
				toUnsub = append(toUnsub, topic)
			}
		}
	}
	p.topicMu.Unlock()

	for _, topic := range toUnsub {
		p.broadcastSubscriptionTo(host, false, topic)
	}
}

// Hosts returns the currently connected host names.
func (p *Pool[M]) Hosts() []string {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	out := make([]string, 0, len(p.sockets))
	for host := range p.sockets {
		out = append(out, host)
	}
	return out
}

// Stop disconnects every connection.
func (p *Pool[M]) Stop() {
	p.connMu.Lock()
	hosts := make([]string, 0, len(p.sockets))
	for host := range p.sockets {
		hosts = append(hosts, host)
	}
	p.connMu.Unlock()
	for _, host := range hosts {
		p.disconnect(host)
	}
}
