// Command fileserver runs an HTTP/1.1 reactorcore server with a JSON
// health route and a static-file mount point, demonstrating
// httpserver.Server wiring via reactorcore.App.
//
// Author: momentics <momentics@gmail.com>
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/momentics/reactorcore"
	"github.com/momentics/reactorcore/control"
	"github.com/momentics/reactorcore/httpserver"
)

func main() {
	port := flag.Int("port", 9200, "TCP port to listen on")
	loops := flag.Int("loops", 4, "I/O loop pool size")
	root := flag.String("root", ".", "directory to serve under /static/")
	flag.Parse()

	cfg := reactorcore.DefaultConfig()
	cfg.Port = uint16(*port)
	cfg.IoLoopNum = *loops
	cfg.ServerName = "fileserver"
	cfg.HTTPMounts = []httpserver.MountPoint{
		{URLPrefix: "/static/", Directory: *root},
	}

	app, err := reactorcore.New(cfg)
	if err != nil {
		log.Fatalf("fileserver: %v", err)
	}

	srv, err := app.NewHTTPServer()
	if err != nil {
		log.Fatalf("fileserver: %v", err)
	}
	srv.Handle("GET", "/healthz", func(req *httpserver.Request, resp *httpserver.Response) {
		resp.SetBody([]byte(`{"status":"ok"}`))
		resp.Headers.Set(httpserver.HeaderContentType, "application/json; charset=utf-8")
	})
	// Demonstrates offloading blocking work to App's worker pool instead
	// of doing it on the I/O loop thread: the handler returns immediately
	// with 202, the scan runs on a worker goroutine.
	srv.Handle("POST", "/reindex", func(req *httpserver.Request, resp *httpserver.Response) {
		dir := *root
		if err := app.Submit(func() {
			n := 0
			_ = filepath.Walk(dir, func(string, os.FileInfo, error) error {
				n++
				return nil
			})
			log.Printf("fileserver: background reindex of %q saw %d entries", dir, n)
		}); err != nil {
			resp.Status = httpserver.StatusServiceUnavailable
			return
		}
		resp.Status = httpserver.StatusAccepted
	})

	if err := srv.Start(); err != nil {
		log.Fatalf("fileserver: start: %v", err)
	}
	log.Printf("fileserver: listening on %s, serving %q under /static/", srv.Addr(), *root)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s == syscall.SIGHUP {
			log.Printf("fileserver: SIGHUP, triggering hot-reload")
			control.TriggerHotReloadSync()
			continue
		}
		break
	}

	log.Printf("fileserver: shutting down")
	srv.Stop()
	app.Stop()
}
