// File: internal/ringpool/ring.go
// Package ringpool owns the io_uring submission/completion rings that back
// the multi-ring worker pool (spec.md §4.1): one Ring per worker, a Pool
// that stripes new connections and writes across the slave rings via
// round robin, grounded in the teacher's
// internal/transport/transport_linux_uring.go and uring_types.go plus the
// original C add_accept/add_fd/add_write/add_read_continue and
// saurion_worker_master_loop_it/saurion_worker_slave_loop_it.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ringpool

import (
	"sync/atomic"

	"github.com/momentics/saurion-go/internal/ioreq"
)

// Completion is one decoded completion-queue entry paired back to the
// Request that produced it.
type Completion struct {
	Req *ioreq.Request
	Res int32
}

// Ring is the minimal surface the engine's worker loops need from one
// io_uring instance (or a fake standing in for one in tests). Exactly one
// goroutine calls WaitCompletion on a given Ring at a time (spec.md §4.1
// "each ring has exactly one owning worker"); Prepare* may be called from
// other goroutines (e.g. Engine.Send routing a write to a slave ring it
// doesn't own) — implementations must guard their submission queue
// internally.
type Ring interface {
	PrepareAccept(listenFd int, req *ioreq.Request) error
	PrepareRead(fd int, req *ioreq.Request) error
	PrepareWrite(fd int, req *ioreq.Request) error
	PrepareWake(req *ioreq.Request) error
	WaitCompletion() (Completion, error)
	EventFD() int
	Close() error
}

// Pool owns every Ring in the engine: rings[0] is the master (accept
// completions only), rings[1:] are slaves striped round robin for new
// connections and writes (spec.md §4.1, §4.5).
type Pool struct {
	rings []Ring
	next  uint64
}

// NewPool wraps an already-constructed set of rings. len(rings) must be at
// least 2: one master plus at least one slave.
func NewPool(rings []Ring) *Pool {
	return &Pool{rings: rings}
}

// Master returns the ring that owns the listening socket's accept
// completions.
func (p *Pool) Master() Ring { return p.rings[0] }

// Len returns the total number of rings, including the master.
func (p *Pool) Len() int { return len(p.rings) }

// Ring returns the ring at index i (0 is the master).
func (p *Pool) Ring(i int) Ring { return p.rings[i] }

// NextSlave returns the next slave ring in round-robin order, used to
// stripe newly accepted connections and outbound writes evenly across
// workers (spec.md §4.5 "always routes through the round-robin counter").
func (p *Pool) NextSlave() Ring {
	slaves := p.rings[1:]
	idx := atomic.AddUint64(&p.next, 1) % uint64(len(slaves))
	return slaves[idx]
}

// Close closes every ring, collecting the first error encountered.
func (p *Pool) Close() error {
	var first error
	for _, r := range p.rings {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
