//go:build linux

// Author: momentics <momentics@gmail.com>
package reactor

import (
	"log"

	"golang.org/x/sys/unix"
)

// pinCurrentThread attempts to pin the calling OS thread (the caller must
// already hold runtime.LockOSThread) to cpu. Failure is logged, never
// fatal: pinning is a locality optimisation, not a correctness requirement.
func pinCurrentThread(cpu int) {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.Printf("reactor: SchedSetaffinity(cpu=%d): %v", cpu, err)
	}
}
