package networking

import "sync"

// Context is the process-wide messaging context shared across all message
// sockets: the CHIRP multicast socket plus every ephemeral-bound CSCP/CDTP/
// CMDP socket a process opens. It corresponds to a single ZeroMQ context
// with linger=0 in the original implementation; here it is a handle used to
// track and close every owned resource on shutdown, not a shared kernel
// object, since each Go socket already owns its own net.Conn/net.Listener.
type Context struct {
	mu      sync.Mutex
	closers []func() error
}

// global is the lazily-initialised default Context. Components default to
// it unless a test or multi-satellite-in-one-process harness supplies its
// own Context explicitly.
var (
	globalOnce sync.Once
	global     *Context
)

// Global returns the lazily-initialised, process-wide default Context.
func Global() *Context {
	globalOnce.Do(func() { global = NewContext() })
	return global
}

// NewContext builds an empty messaging context.
func NewContext() *Context { return &Context{} }

// Track registers closer to run when the context is closed. No component in
// this module registers itself; callers that want process shutdown to tear
// a resource down through the context pass its closer here.
func (c *Context) Track(closer func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
}

// Close runs every tracked closer, in reverse registration order, and
// returns the first error encountered (continuing to close the rest).
func (c *Context) Close() error {
	c.mu.Lock()
	closers := append([]func() error(nil), c.closers...)
	c.closers = nil
	c.mu.Unlock()

	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
