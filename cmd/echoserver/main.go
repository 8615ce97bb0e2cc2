// Command echoserver runs a framed opaque-mode reactorcore server that
// echoes every message type 1 payload back to its sender, with ping/pong
// liveness enabled. Demonstrates framed.Server wiring via reactorcore.App.
//
// Author: momentics <momentics@gmail.com>
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/reactorcore"
	"github.com/momentics/reactorcore/control"
	"github.com/momentics/reactorcore/framed"
	"github.com/momentics/reactorcore/tcp"
)

// echoType is the application message type this example dispatches:
// opaque payloads of this type are echoed back verbatim.
const echoType uint32 = 1

func main() {
	port := flag.Int("port", 9100, "TCP port to listen on")
	loops := flag.Int("loops", 4, "I/O loop pool size")
	flag.Parse()

	cfg := reactorcore.DefaultConfig()
	cfg.Port = uint16(*port)
	cfg.IoLoopNum = *loops
	cfg.PingPongEnabled = true
	cfg.PingInterval = 30 * time.Second
	cfg.PingTimeout = 10 * time.Second
	cfg.ServerName = "echoserver"

	app, err := reactorcore.New(cfg)
	if err != nil {
		log.Fatalf("echoserver: %v", err)
	}

	srv, err := app.NewFramedServer(framed.Opaque)
	if err != nil {
		log.Fatalf("echoserver: %v", err)
	}
	srv.RegisterOpaqueHandler(echoType, func(conn *tcp.Connection, body []byte) {
		conn.Send(framed.EncodeOpaque(echoType, body))
	})
	srv.SetConnectionCallback(func(conn *tcp.Connection) {
		if conn.Connected() {
			log.Printf("echoserver: %s connected", conn.Name())
		}
	})

	if err := srv.Start(); err != nil {
		log.Fatalf("echoserver: start: %v", err)
	}
	log.Printf("echoserver: listening on %s (opaque mode, ping/pong on)", srv.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s == syscall.SIGHUP {
			log.Printf("echoserver: SIGHUP, triggering hot-reload")
			control.TriggerHotReloadSync()
			continue
		}
		break
	}

	log.Printf("echoserver: shutting down")
	srv.Stop()
	app.Stop()
}
