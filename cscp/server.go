package cscp

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/obsv"
	"github.com/constellation-daq/constellation-core/protocol"
)

// recvTimeout bounds a single connection's read wait so the server loop's
// stop flag is checked promptly.
const recvTimeout = 100 * time.Millisecond

// Server is the per-satellite CSCP REPLY endpoint: it binds an ephemeral
// TCP port, accepts connections, and dispatches every request strictly
// sequentially regardless of how many connections are open concurrently.
// Modeled on a graceful RPC server's accept/serve split, substituting a
// plain net.Listener accept loop for grpc.Server.Serve.
type Server struct {
	dispatcher *Dispatcher
	sender     string
	logger     logging.Logger

	listener net.Listener
	port     int

	dispatchMu sync.Mutex

	shutdownMu sync.Mutex
	isShutdown bool
	wg         sync.WaitGroup
}

// NewServer binds host:0 and returns a Server ready to Serve.
func NewServer(host, sender string, dispatcher *Dispatcher, logger logging.Logger) (*Server, error) {
	ln, port, err := protocol.BindEphemeral(host)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Server{
		dispatcher: dispatcher,
		sender:     sender,
		logger:     logging.Named(logger, "cscp.server"),
		listener:   ln,
		port:       port,
	}, nil
}

// Port returns the bound ephemeral TCP port, advertised as CONTROL via CHIRP.
func (s *Server) Port() int { return s.port }

// Serve accepts connections until Stop is called. It never returns a
// non-nil error for an expected shutdown.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.shutdownMu.Lock()
			shutdown := s.isShutdown
			s.shutdownMu.Unlock()
			if shutdown {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Stop closes the listener and waits for in-flight connections to finish
// their current request.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	if s.isShutdown {
		s.shutdownMu.Unlock()
		return
	}
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		s.shutdownMu.Lock()
		shutdown := s.isShutdown
		s.shutdownMu.Unlock()
		if shutdown {
			return
		}

		conn.SetReadDeadline(time.Now().Add(recvTimeout))
		frames, err := protocol.ReadMultipart(conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return // connection closed or unrecoverable framing error
		}

		reply := s.dispatchOne(frames)
		replyFrames, err := encodeReply(s.sender, reply)
		if err != nil {
			s.logger.Error("failed to encode reply", "error", err)
			return
		}
		if err := protocol.WriteMultipart(conn, replyFrames); err != nil {
			s.logger.Warn("failed to write reply", "error", err)
			return
		}
	}
}

// dispatchOne decodes and dispatches a single request under the server's
// dispatch lock, so the FSM and registry see requests strictly in the order
// they were received across every connection.
func (s *Server) dispatchOne(frames [][]byte) Reply {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	start := time.Now()
	req, err := decodeRequest(frames)
	if err != nil {
		obsv.RecordCSCPRequest("unknown", string(ReplyError), time.Since(start).Seconds())
		return Reply{Type: ReplyError, Description: err.Error()}
	}

	reply := s.dispatcher.Dispatch(req)
	obsv.RecordCSCPRequest(req.Verb, string(reply.Type), time.Since(start).Seconds())
	return reply
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
