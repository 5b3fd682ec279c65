// Package satellite composes the FSM, CSCP, CHP, CMDP and CHIRP packages
// into the single runtime a Constellation satellite process runs. It
// favors composition over inheritance (a Satellite holds references to
// its components rather than embedding a base type a user satellite would
// subclass) and takes an explicit *Runtime handle rather than reaching for
// process-wide singletons, so more than one Satellite can run in a single
// process (e.g. under test).
package satellite

import (
	"fmt"
	"time"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/chp"
	"github.com/constellation-daq/constellation-core/cmdp"
	"github.com/constellation-daq/constellation-core/cscp"
	"github.com/constellation-daq/constellation-core/fsm"
	"github.com/constellation-daq/constellation-core/logging"
)

// Runtime bundles the CHIRP handles a satellite registers its services with
// and discovers heartbeat senders through. A process hosting several
// satellites shares one Runtime (one multicast socket, one Listener).
type Runtime struct {
	Manager  *chirp.Manager
	Listener *chirp.Listener
}

// Options configures a Satellite's optional parameters; zero values take
// the package defaults.
type Options struct {
	Host              string // bind host for CSCP/CHP/CMDP ephemeral sockets; "" means all interfaces
	HeartbeatInterval time.Duration
	WatchdogLives     int
	ConsoleLevel      cmdp.Level
	Logger            logging.Logger
}

// Satellite is one running instance: an FSM driven by user Hooks, a CSCP
// server exposing it to controllers, a CHP sender advertising its liveness
// and a watchdog tracking any remotes it discovers, and a CMDP publisher
// fed by every component's logger.
type Satellite struct {
	Name string

	Machine  *fsm.Machine
	Registry *cscp.Registry

	cscpServer *cscp.Server
	hbSender   *chp.Sender
	watchdog   *chp.Manager
	hbSub      *chp.Subscriber
	publisher  *cmdp.Publisher
	sink       *cmdp.SinkManager

	runtime *Runtime
	logger  logging.Logger
}

// New builds and starts a Satellite named name, driven by hooks, registering
// its CONTROL/HEARTBEAT/MONITORING services with runtime and subscribing its
// watchdog to runtime's discovered HEARTBEAT senders.
func New(name string, hooks fsm.Hooks, runtime *Runtime, opts Options) (*Satellite, error) {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = chp.DefaultInterval
	}
	if opts.WatchdogLives <= 0 {
		opts.WatchdogLives = chp.DefaultLives
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}

	publisher, err := cmdp.NewPublisher(opts.Host, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("satellite: start cmdp publisher: %w", err)
	}
	sink := cmdp.NewSinkManager(publisher, opts.ConsoleLevel)
	satLogger := sink.NewLogger(name, opts.Logger)

	machine := fsm.New(hooks, satLogger)
	registry := cscp.NewRegistry()

	sat := &Satellite{
		Name:      name,
		Machine:   machine,
		Registry:  registry,
		publisher: publisher,
		sink:      sink,
		runtime:   runtime,
		logger:    satLogger,
	}

	dispatcher := &cscp.Dispatcher{
		Name:     name,
		Version:  "1.0",
		Machine:  machine,
		Registry: registry,
	}
	server, err := cscp.NewServer(opts.Host, name, dispatcher, satLogger)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("satellite: start cscp server: %w", err)
	}
	sat.cscpServer = server

	sender, err := chp.NewSender(opts.Host, name, opts.HeartbeatInterval, satLogger)
	if err != nil {
		publisher.Close()
		server.Stop()
		return nil, fmt.Errorf("satellite: start chp sender: %w", err)
	}
	sat.hbSender = sender
	machine.OnStateChange(func(s fsm.State) { sender.OnStateChange(string(s)) })

	watchdog := chp.NewManager(opts.WatchdogLives, sat.onRemoteInterrupt, satLogger)
	sat.watchdog = watchdog
	sat.hbSub = chp.NewSubscriber(watchdog, satLogger)

	if runtime != nil {
		runtime.Listener.OnDiscovery(sat.hbSub.HandleDiscovery)
		if err := runtime.Manager.RegisterService(chirp.ServiceControl, uint16(server.Port())); err != nil {
			return nil, fmt.Errorf("satellite: register CONTROL service: %w", err)
		}
		if err := runtime.Manager.RegisterService(chirp.ServiceHeartbeat, uint16(sender.Port())); err != nil {
			return nil, fmt.Errorf("satellite: register HEARTBEAT service: %w", err)
		}
		if err := runtime.Manager.RegisterService(chirp.ServiceMonitoring, uint16(publisher.Port())); err != nil {
			return nil, fmt.Errorf("satellite: register MONITORING service: %w", err)
		}
	}

	publisher.EnableSending(name)
	go server.Serve()
	go sender.Run()
	go watchdog.Run()

	return sat, nil
}

// onRemoteInterrupt reacts to the watchdog by driving this satellite's own
// FSM into SAFE. The watchdog tracks every HEARTBEAT sender the runtime's
// Listener discovers; there is no per-satellite dependency filter. It goes
// through Machine.Interrupt rather than reacting directly, so an interrupt
// that arrives mid-transition is held and honored once the satellite settles
// into its next steady state instead of being silently dropped.
func (s *Satellite) onRemoteInterrupt(remote, reason string) {
	s.logger.Warn("remote heartbeat failure, interrupting", "remote", remote, "reason", reason)
	s.Machine.Interrupt()
}

// CSCPPort returns the bound CSCP control port.
func (s *Satellite) CSCPPort() int { return s.cscpServer.Port() }

// HeartbeatPort returns the bound CHP heartbeat port.
func (s *Satellite) HeartbeatPort() int { return s.hbSender.Port() }

// MonitoringPort returns the bound CMDP monitoring port.
func (s *Satellite) MonitoringPort() int { return s.publisher.Port() }

// Stop shuts down every component in dependency order.
func (s *Satellite) Stop() {
	s.hbSub.Stop()
	s.watchdog.Stop()
	s.hbSender.Stop()
	s.cscpServer.Stop()
	s.publisher.Close()
	if s.runtime != nil {
		s.runtime.Manager.UnregisterServices()
	}
}
