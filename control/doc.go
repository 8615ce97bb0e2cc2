// Package control
// Author: momentics <momentics@gmail.com>
//
// Hot-reload, runtime metrics, configuration control, and debug introspection
// layer for the reactorcore server: not on the reactor's hot path, consumed
// by httpserver.Server, framed.Server, netutil.Acceptor and the reactorcore
// App the same way a logging facility or thread pool would be.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates
//   - Runtime observers for hot-reload
//   - Metrics telemetry contracts
//   - State export, debug hooks, and probe registration
package control
