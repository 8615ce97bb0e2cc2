// Package reactorcore is the top-level facade that aggregates the reactor
// kernel (reactor/timingwheel/netutil/buffer/tcp) and its two application
// layers (framed, httpserver) behind a single typed Config, the way the
// teacher's facade.HioloadWS aggregates transport/pool/poller/scheduler
// behind one Config — Author: momentics <momentics@gmail.com>
package reactorcore

import (
	"time"

	"github.com/momentics/reactorcore/httpserver"
)

// Config holds every setting spec.md §6 lists as set at construction or
// via setters prior to Start: listen address, loop pool size, ping/pong
// liveness, and HTTP keep-alive/static-file options. All fields are
// immutable once passed to New; changing behaviour at runtime goes through
// the Control snapshot/reload path instead (App.Control), not this struct.
type Config struct {
	Port         uint16 // TCP port to listen on
	LoopbackOnly bool   // restrict the listening socket to 127.0.0.1/::1
	IPv6         bool   // bind an AF_INET6 socket instead of AF_INET
	ReuseAddr    bool   // SO_REUSEADDR on the listening socket
	ReusePort    bool   // SO_REUSEPORT on the listening socket
	IoLoopNum    int    // size of the I/O EventLoopThreadPool (0 = serve on the main loop)

	PingPongEnabled bool          // framed-mode liveness: ping/pong enforcement
	PingInterval    time.Duration // PING send interval (framed mode only)
	PingTimeout     time.Duration // PONG grace period before force-close (framed mode only)

	HTTPKeepAliveTimeout     time.Duration // idle-kickoff timeout for HTTP connections
	HTTPMaxKeepAliveRequests int           // requests served before a keep-alive connection closes
	HTTPMounts               []httpserver.MountPoint
	HTTPFileAuth             func(path string) bool

	HighWaterMark int // queued-byte threshold for the backpressure callback; App does not apply it, so its servers keep tcp.Server's 64 KiB default

	WorkerPoolSize int // goroutines in the Submit pool for blocking application work

	ServerName string // name given to each server App builds, used in that server's error messages
}

// DefaultConfig returns the configuration New uses when passed nil,
// matching spec.md §6's defaults in spirit (loopback-only disabled,
// plain IPv4, four I/O loops beyond the main loop, keep-alive enabled
// with modest limits), in the style of the teacher's
// facade.DefaultConfig().
func DefaultConfig() *Config {
	return &Config{
		Port:                     8080,       // arbitrary, overridden by nearly every caller
		LoopbackOnly:             false,      // accept from any interface
		IPv6:                     false,      // plain IPv4
		ReuseAddr:                true,       // restart-friendly by default
		ReusePort:                false,      // single-process default
		IoLoopNum:                4,          // four I/O loops beyond the acceptor's main loop
		PingPongEnabled:          false,      // framed liveness off unless explicitly enabled
		PingInterval:             30 * time.Second,
		PingTimeout:              10 * time.Second,
		HTTPKeepAliveTimeout:     60 * time.Second,
		HTTPMaxKeepAliveRequests: 100,
		HighWaterMark:            64 * 1024, // 64 KiB queued before backpressure fires
		WorkerPoolSize:           4,         // four goroutines for Submit-dispatched blocking work
		ServerName:               "reactorcore",
	}
}
