// Command democtrl is a minimal Constellation controller: it discovers
// satellites via CHIRP, prints every CMDP log record it receives, and logs
// the discovered satellite hosts every two seconds. It sends no CSCP
// commands.
//
// Usage:
//
//	go run ./cmd/democtrl -group constellation
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
	"github.com/constellation-daq/constellation-core/controller"
	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/networking"
)

func main() {
	name := flag.String("name", "democtrl", "controller name, used as CSCP sender identity")
	group := flag.String("group", "constellation", "CHIRP group name")
	iface := flag.String("iface", "", "multicast interface (empty: kernel default)")
	flag.Parse()

	logger := logging.NewDefault()

	sock, err := networking.NewMulticastSocket(*iface)
	if err != nil {
		logger.Error("failed to open multicast socket", "error", err)
		os.Exit(1)
	}
	defer sock.Close()

	listener := chirp.NewListener(sock, *group, "", logger)
	go listener.Run()
	defer listener.Stop()

	ctrl := controller.New(listener, *name, func(host string, msg cmdp.Message) {
		fmt.Printf("[%s] %s %s\n", host, msg.Topic, string(msg.Body))
	}, logger)
	defer ctrl.Stop()
	ctrl.Subscribe("LOG/")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			logger.Info("shutting down", "name", *name)
			return
		case <-ticker.C:
			hosts := ctrl.Satellites()
			if len(hosts) == 0 {
				continue
			}
			logger.Info("discovered satellites", "hosts", hosts)
		}
	}
}
