// Command demosat runs a single Constellation satellite: it registers
// CONTROL/HEARTBEAT/MONITORING services over CHIRP and drives a trivial
// Hooks implementation whose RUN body just counts ticks, so it can be used
// to exercise democtrl or any other controller end to end.
//
// Usage:
//
//	go run ./cmd/demosat -name tlu1
//	go run ./cmd/demosat -name tlu1 -group my-experiment -iface eth0
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/constellation-daq/constellation-core/chirp"
	"github.com/constellation-daq/constellation-core/cmdp"
	"github.com/constellation-daq/constellation-core/config"
	"github.com/constellation-daq/constellation-core/configfile"
	"github.com/constellation-daq/constellation-core/fsm"
	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/networking"
	"github.com/constellation-daq/constellation-core/satellite"
)

// tickingHooks is a minimal satellite body: RUN just counts seconds until stopped.
type tickingHooks struct {
	logger logging.Logger
}

func (h *tickingHooks) Initializing(cfg *config.Configuration) error { return nil }
func (h *tickingHooks) Launching() error                             { return nil }
func (h *tickingHooks) Landing() error                               { return nil }
func (h *tickingHooks) Reconfiguring(cfg *config.Configuration) error { return nil }
func (h *tickingHooks) Starting(runID string) error                  { return nil }
func (h *tickingHooks) Stopping() error                               { return nil }
func (h *tickingHooks) Interrupting(prev fsm.State) error             { return nil }
func (h *tickingHooks) Failure(prev fsm.State, reason string) {
	h.logger.Error("satellite entered ERROR", "from", prev, "reason", reason)
}

func (h *tickingHooks) Running(stop <-chan struct{}) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	count := 0
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			count++
			h.logger.Info("tick", "count", count)
		}
	}
}

func main() {
	name := flag.String("name", "demosat", "satellite name")
	group := flag.String("group", "constellation", "CHIRP group name")
	iface := flag.String("iface", "", "multicast interface (empty: kernel default)")
	configPath := flag.String("config", "", "optional YAML configuration file")
	flag.Parse()

	logger := logging.NewDefault()

	if *configPath != "" {
		if _, err := configfile.LoadYAML(*configPath); err != nil {
			logger.Error("failed to load configuration", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}

	sock, err := networking.NewMulticastSocket(*iface)
	if err != nil {
		logger.Error("failed to open multicast socket", "error", err)
		os.Exit(1)
	}
	defer sock.Close()

	manager := chirp.NewManager(sock, *group, *name, logger)
	listener := chirp.NewListener(sock, *group, *name, logger)
	go listener.Run()
	defer listener.Stop()

	runtime := &satellite.Runtime{Manager: manager, Listener: listener}
	sat, err := satellite.New(*name, &tickingHooks{logger: logger}, runtime, satellite.Options{
		ConsoleLevel: cmdp.INFO,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to start satellite", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s listening: cscp=%d chp=%d cmdp=%d\n", *name, sat.CSCPPort(), sat.HeartbeatPort(), sat.MonitoringPort())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down", "name", *name)
	sat.Stop()
}
