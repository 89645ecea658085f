//go:build linux

// File: engine/affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pins one worker goroutine's OS thread to a CPU core, adapted from the
// teacher's internal/concurrency/pin_linux.go — rewritten against
// golang.org/x/sys/unix.SchedSetaffinity instead of the teacher's cgo
// libnuma/hwloc binding, so the engine stays a pure-Go build matching the
// rest of its syscall surface (io_uring itself is already raw unix calls).
package engine

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinCurrentThread locks the calling goroutine to its OS thread and
// restricts that thread to cpuID. Errors are non-fatal: a worker that
// fails to pin still runs correctly, just without the locality benefit.
func pinCurrentThread(cpuID int) error {
	if cpuID < 0 {
		return nil
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	return unix.SchedSetaffinity(0, &set)
}

// unpinCurrentThread restores the thread's affinity mask to every online
// CPU and releases the OS-thread lock taken by pinCurrentThread.
func unpinCurrentThread() error {
	defer runtime.UnlockOSThread()
	var set unix.CPUSet
	set.Zero()
	for i := 0; i < runtime.NumCPU(); i++ {
		set.Set(i)
	}
	return unix.SchedSetaffinity(0, &set)
}
