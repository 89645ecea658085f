// File: engine/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ThreadAffinity adapts the platform-specific pinCurrentThread/unpinCurrentThread
// pair (affinity_linux.go / affinity_other.go) to api.Affinity, so a worker's
// binding state can be inspected through the same contract the rest of the
// control surface uses.
package engine

import (
	"sync"

	"github.com/momentics/saurion-go/api"
)

// ThreadAffinity tracks the pin state of the OS thread underlying one
// worker goroutine. Not safe for concurrent Pin/Unpin from multiple
// goroutines — each worker owns exactly one.
type ThreadAffinity struct {
	mu     sync.Mutex
	cpuID  int
	pinned bool
}

var _ api.Affinity = (*ThreadAffinity)(nil)

// Pin locks the calling goroutine's OS thread to cpuID. numaID is ignored
// and not recorded; the engine has no NUMA-aware scheduling of
// worker threads themselves (only buffer allocation is NUMA-aware, via
// internal/bufpool).
func (a *ThreadAffinity) Pin(cpuID, numaID int) error {
	if err := pinCurrentThread(cpuID); err != nil {
		return err
	}
	a.mu.Lock()
	a.cpuID = cpuID
	a.pinned = true
	a.mu.Unlock()
	return nil
}

// Unpin releases the thread back to the scheduler's default affinity mask.
func (a *ThreadAffinity) Unpin() error {
	if err := unpinCurrentThread(); err != nil {
		return err
	}
	a.mu.Lock()
	a.pinned = false
	a.mu.Unlock()
	return nil
}

// Get reports the currently pinned CPU, or -1 if unpinned. NUMA id is
// always -1: see Pin.
func (a *ThreadAffinity) Get() (cpuID, numaID int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.pinned {
		return -1, -1, nil
	}
	return a.cpuID, -1, nil
}

// Scope reports thread-level binding: one ring-owning goroutine per
// locked OS thread.
func (a *ThreadAffinity) Scope() api.AffinityScope { return api.ScopeThread }

// ImmutableDescriptor snapshots the current binding state.
func (a *ThreadAffinity) ImmutableDescriptor() api.AffinityDescriptor {
	cpuID, numaID, _ := a.Get()
	a.mu.Lock()
	pinned := a.pinned
	a.mu.Unlock()
	return api.AffinityDescriptor{
		CPUID:  cpuID,
		NUMAID: numaID,
		Scope:  api.ScopeThread,
		Pinned: pinned,
	}
}
