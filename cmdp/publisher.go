package cmdp

import (
	"net"
	"sync"
	"time"

	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/obsv"
	"github.com/constellation-daq/constellation-core/protocol"
)

// startupPause absorbs already-pending subscriptions before the first send,
// mirroring CMDPSink::enableSending's 300ms sleep_for.
const startupPause = 300 * time.Millisecond

// subscriptionPollTimeout bounds the subscription-reading loop's blocking
// recv, the 300ms CMDP subscription-loop suspension point.
const subscriptionPollTimeout = 300 * time.Millisecond

type subscriberConn struct {
	id       uint64
	conn     net.Conn
	prefixes *prefixSet
}

// Publisher is the CMDP XPUB side: an ephemeral-bound socket accepting any
// number of subscriber connections, each tracked with its own raw
// byte-prefix subscription set plus a contribution to the publisher-wide
// levelTable used to gate logger verbosity.
type Publisher struct {
	listener net.Listener
	port     int
	logger   logging.Logger

	levels *levelTable

	mu        sync.Mutex
	subs      []*subscriberConn
	nextSubID uint64

	queueMu sync.Mutex
	queue   []Message
	cond    *sync.Cond
	name    string
	started bool
	stopped bool

	acceptStop chan struct{}
	acceptDone chan struct{}
	sendDone   chan struct{}
}

// NewPublisher binds an ephemeral port and starts accepting subscriber
// connections immediately (so CHIRP can advertise the port before the
// sender's name is known); no records are sent until EnableSending is called.
func NewPublisher(host string, logger logging.Logger) (*Publisher, error) {
	ln, port, err := protocol.BindEphemeral(host)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Noop()
	}
	p := &Publisher{
		listener:   ln,
		port:       port,
		logger:     logging.Named(logger, "cmdp.publisher"),
		levels:     newLevelTable(),
		acceptStop: make(chan struct{}),
		acceptDone: make(chan struct{}),
		sendDone:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.queueMu)
	go p.acceptLoop()
	return p, nil
}

// Port returns the bound ephemeral TCP port, advertised via CHIRP as MONITORING.
func (p *Publisher) Port() int { return p.port }

// Levels exposes the publisher's subscription aggregate for a SinkManager.
func (p *Publisher) Levels() *levelTable { return p.levels }

// EnableSending sets the sender name carried on every future record,
// rewrites any already-queued records, waits startupPause to absorb pending
// subscriptions, then starts the send worker.
func (p *Publisher) EnableSending(name string) {
	p.queueMu.Lock()
	p.name = name
	p.started = true
	for i := range p.queue {
		p.queue[i].Sender = name
	}
	p.queueMu.Unlock()

	time.Sleep(startupPause)
	go p.sendLoop()
}

// Publish queues msg for sending. Safe to call before EnableSending; queued
// records are stamped with the sender name once it becomes known.
func (p *Publisher) Publish(msg Message) {
	p.queueMu.Lock()
	if p.name != "" {
		msg.Sender = p.name
	}
	p.queue = append(p.queue, msg)
	p.cond.Signal()
	p.queueMu.Unlock()
}

func (p *Publisher) sendLoop() {
	defer close(p.sendDone)
	for {
		p.queueMu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped && len(p.queue) == 0 {
			p.queueMu.Unlock()
			return
		}
		batch := p.queue
		p.queue = nil
		p.queueMu.Unlock()

		for _, msg := range batch {
			if err := p.broadcast(msg); err != nil {
				p.logger.Warn("broadcast failed", "topic", msg.Topic, "error", err)
			}
		}
	}
}

func (p *Publisher) broadcast(msg Message) error {
	frames, err := encode(msg)
	if err != nil {
		return err
	}
	obsv.RecordCMDPPublished(msg.Kind())

	p.mu.Lock()
	var dead []uint64
	for _, sc := range p.subs {
		if !sc.prefixes.matches(msg.Topic) {
			continue
		}
		sc.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := protocol.WriteMultipart(sc.conn, frames); err != nil {
			dead = append(dead, sc.id)
		}
	}
	p.mu.Unlock()
	if len(dead) > 0 {
		p.removeSubs(dead)
	}
	return nil
}

func (p *Publisher) acceptLoop() {
	defer close(p.acceptDone)
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.acceptStop:
				return
			default:
				p.logger.Warn("accept failed", "error", err)
				return
			}
		}
		p.mu.Lock()
		p.nextSubID++
		sc := &subscriberConn{id: p.nextSubID, conn: conn, prefixes: newPrefixSet()}
		p.subs = append(p.subs, sc)
		p.mu.Unlock()
		go p.subscriptionLoop(sc)
	}
}

// subscriptionLoop reads raw XPUB-style subscription frames from sc without
// blocking the send path, updating both sc's own forwarding prefixes and the
// publisher-wide level aggregate.
func (p *Publisher) subscriptionLoop(sc *subscriberConn) {
	for {
		select {
		case <-p.acceptStop:
			return
		default:
		}
		sc.conn.SetReadDeadline(time.Now().Add(subscriptionPollTimeout))
		frames, err := protocol.ReadMultipart(sc.conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			p.removeSubs([]uint64{sc.id})
			return
		}
		if len(frames) != 1 {
			continue
		}
		subscribe, prefix, topicUC, level, ok := parseSubscriptionFrame(frames[0])
		if prefix != "" {
			if subscribe {
				sc.prefixes.add(prefix)
			} else {
				sc.prefixes.remove(prefix)
			}
		}
		if !ok {
			continue
		}
		if subscribe {
			p.levels.Subscribe(topicUC, level)
			obsv.RecordCMDPSubscriptionChurn("subscribe")
		} else {
			p.levels.Unsubscribe(topicUC, level)
			obsv.RecordCMDPSubscriptionChurn("unsubscribe")
		}
	}
}

func (p *Publisher) removeSubs(ids []uint64) {
	dead := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		dead[id] = true
	}
	p.mu.Lock()
	kept := p.subs[:0]
	for _, sc := range p.subs {
		if dead[sc.id] {
			sc.conn.Close()
			continue
		}
		kept = append(kept, sc)
	}
	p.subs = kept
	p.mu.Unlock()
}

// Close stops accepting connections, wakes the send worker, and closes every
// subscriber connection.
func (p *Publisher) Close() error {
	close(p.acceptStop)
	p.listener.Close()
	<-p.acceptDone

	p.queueMu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.queueMu.Unlock()
	if p.started {
		<-p.sendDone
	}

	p.mu.Lock()
	for _, sc := range p.subs {
		sc.conn.Close()
	}
	p.subs = nil
	p.mu.Unlock()
	return nil
}
