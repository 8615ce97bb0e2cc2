// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free queue and worker-pool primitives used as the ambient thread
// pool that application handlers submit blocking work to, off the
// event-loop thread. Not part of the reactor kernel itself.
package concurrency
