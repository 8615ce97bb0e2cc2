package reactorcore

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/reactorcore/control"
	"github.com/momentics/reactorcore/framed"
	"github.com/momentics/reactorcore/httpserver"
	"github.com/momentics/reactorcore/internal/concurrency"
	"github.com/momentics/reactorcore/netutil"
	"github.com/momentics/reactorcore/reactor"
	"github.com/momentics/reactorcore/tcp"
)

// App is the facade gluing one listener loop (the "main" loop, run on its
// own goroutine/OS thread) to the Config-driven application layer on top
// of it, plus the ambient control/metrics/debug surface. Grounded on the
// teacher's facade.HioloadWS: one struct aggregating everything a caller
// needs, built from an immutable Config and exposing Start/Stop plus
// accessors for the control-plane pieces.
type App struct {
	cfg *Config

	mainThread *reactor.EventLoopThread
	mainLoop   *reactor.EventLoop

	configStore *control.ConfigStore
	metrics     *control.MetricsRegistry
	debug       *control.DebugProbes
	workers     *concurrency.ThreadPool

	serversMu   sync.Mutex
	httpServers []*httpserver.Server

	started bool
}

// New constructs an App: it launches the main loop's goroutine and blocks
// until that loop is ready to accept channels, but does not yet bind or
// listen (that happens in NewHTTPServer/NewFramedServer + Start). Passing
// nil uses DefaultConfig().
func New(cfg *Config) (*App, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	thread := reactor.NewEventLoopThread(-1)
	loop, err := thread.Start()
	if err != nil {
		return nil, fmt.Errorf("reactorcore: starting main loop: %w", err)
	}

	a := &App{
		cfg:         cfg,
		mainThread:  thread,
		mainLoop:    loop,
		configStore: control.NewConfigStore(),
		metrics:     control.NewMetricsRegistry(),
		debug:       control.NewDebugProbes(),
		workers:     concurrency.NewThreadPool(cfg.WorkerPoolSize),
	}
	a.configStore.SetConfig(map[string]any{
		"port":            cfg.Port,
		"io_loop_num":     cfg.IoLoopNum,
		"ping_pong":       cfg.PingPongEnabled,
		"http_keep_alive": cfg.HTTPKeepAliveTimeout.String(),
	})
	a.debug.RegisterProbe("connections", func() any { return a.metrics.GetSnapshot()["http_connections"] })
	a.debug.RegisterProbe("hot_reloads", func() any { return control.ReloadCount() })
	a.debug.RegisterProbe("worker_pool", func() any { return a.workers.Stats() })
	control.RegisterReloadHook(a.reloadFromConfig)
	return a, nil
}

// reloadFromConfig is registered with control.RegisterReloadHook and fires
// on every control.TriggerHotReload/TriggerHotReloadSync call (e.g. a
// SIGHUP handler in cmd/*/main.go): it re-reads the keep-alive timeout
// back out of the ConfigStore and re-applies it to every httpserver.Server
// this App built. On a server that is already started this updates the
// timeout advertised in the Keep-Alive header only; the idle-kickoff
// timeout fixed at Start stays as it was.
func (a *App) reloadFromConfig() {
	d, ok := a.configStore.GetDuration("http_keep_alive")
	if !ok {
		return
	}
	a.serversMu.Lock()
	servers := append([]*httpserver.Server(nil), a.httpServers...)
	a.serversMu.Unlock()
	for _, s := range servers {
		s.SetKeepAliveTimeout(d)
	}
}

// Submit dispatches task to the worker pool, for application handlers
// that need to do blocking work without stalling an event-loop thread.
// Grounded on spec.md §1's "thread pool used for application work"
// interface: the reactor kernel never calls into it, only application
// code (e.g. an HTTP handler) does, via this one entry point.
func (a *App) Submit(task func()) error {
	return a.workers.Submit(task)
}

// Control exposes the config/metrics/debug surface for external callers
// (e.g. an admin HTTP endpoint or a signal handler wired by cmd/).
func (a *App) Control() (*control.ConfigStore, *control.MetricsRegistry, *control.DebugProbes) {
	return a.configStore, a.metrics, a.debug
}

func (a *App) listenAddr() netutil.InetAddress {
	return netutil.NewListenAddress(a.cfg.Port, a.cfg.LoopbackOnly, a.cfg.IPv6)
}

// NewHTTPServer builds an httpserver.Server bound to this App's main
// loop, wired with the config's keep-alive, mount point, and file-auth
// settings. Call Start to begin listening.
func (a *App) NewHTTPServer() (*httpserver.Server, error) {
	s, err := httpserver.NewServer(a.mainLoop, a.listenAddr(), a.cfg.ServerName, a.cfg.ReuseAddr, a.cfg.ReusePort)
	if err != nil {
		return nil, err
	}
	s.SetIoLoopNum(a.cfg.IoLoopNum)
	s.SetKeepAliveTimeout(a.cfg.HTTPKeepAliveTimeout)
	s.SetMaxKeepAliveRequests(a.cfg.HTTPMaxKeepAliveRequests)
	for _, m := range a.cfg.HTTPMounts {
		s.Mount(m.URLPrefix, m.Directory, m.ExtraHeaders)
	}
	if a.cfg.HTTPFileAuth != nil {
		s.SetFileAuth(a.cfg.HTTPFileAuth)
	}
	s.SetConnectionCallback(func(c *tcp.Connection) {
		if c.Connected() {
			a.metrics.Incr("http_connections_total", 1)
		}
	})
	s.Handle("GET", "/debug/probes", func(req *httpserver.Request, resp *httpserver.Response) {
		body, err := a.debug.DumpStateJSON()
		if err != nil {
			resp.Status = httpserver.StatusInternalServerError
			return
		}
		resp.SetBody(body)
		resp.Headers.Set(httpserver.HeaderContentType, "application/json; charset=utf-8")
	})
	a.trackMetrics(s)

	a.serversMu.Lock()
	a.httpServers = append(a.httpServers, s)
	a.serversMu.Unlock()
	return s, nil
}

// NewFramedServer builds a framed.Server bound to this App's main loop in
// the given mode, wiring ping/pong liveness per the config if enabled.
func (a *App) NewFramedServer(mode framed.Mode) (*framed.Server, error) {
	s, err := framed.NewServer(a.mainLoop, a.listenAddr(), a.cfg.ServerName, mode, a.cfg.ReuseAddr, a.cfg.ReusePort)
	if err != nil {
		return nil, err
	}
	s.SetIoLoopNum(a.cfg.IoLoopNum)
	if a.cfg.PingPongEnabled {
		s.EnablePingPong(a.cfg.PingInterval, a.cfg.PingTimeout)
	}
	return s, nil
}

// trackMetrics records a coarse connection-count gauge by polling every
// second on the main loop; cheap enough at this frequency not to matter
// next to the per-connection hot path it never touches.
func (a *App) trackMetrics(s *httpserver.Server) {
	a.mainLoop.RunEvery(time.Second, func() {
		a.metrics.Set("http_connections", s.ConnectionCount())
	})
}

// Start marks the App started; the individual servers built via
// NewHTTPServer/NewFramedServer are started independently (each owns its
// own listening socket), matching spec.md §4.7's "TcpServer binds
// Acceptor to the loop pool" per-server granularity.
func (a *App) Start() error {
	a.started = true
	return nil
}

// Stop quits the main loop and waits for its goroutine to exit. Call
// after stopping every server built on this App.
func (a *App) Stop() {
	a.workers.Close()
	a.mainLoop.Quit()
	a.mainThread.Wait()
}

// MainLoop exposes the underlying main EventLoop for advanced callers
// that need to schedule work on it directly (e.g. a signal handler).
func (a *App) MainLoop() *reactor.EventLoop { return a.mainLoop }
