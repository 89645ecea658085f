// File: fake/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ring is a deterministic, in-memory stand-in for ringpool.Ring, adapted
// from the teacher's fake Transport/FakeReactor style (mutex-guarded state,
// SetXError knobs) so the engine's worker loops can be exercised without a
// real io_uring kernel instance.
package fake

import (
	"errors"
	"sync"

	"github.com/momentics/saurion-go/internal/ioreq"
	"github.com/momentics/saurion-go/internal/ringpool"
)

// ErrRingClosed is returned by Prepare* and WaitCompletion after Close.
var ErrRingClosed = errors.New("fake: ring closed")

// Write records one completed PrepareWrite call for test assertions.
type Write struct {
	Fd   int
	Data []byte
}

// Ring is a single-instance fake matching the ringpool.Ring contract.
// Accept and read completions are driven by QueueAccept/QueueRead; writes
// and wakes complete immediately and are recorded for inspection.
type Ring struct {
	mu     sync.Mutex
	closed bool

	completions chan ringpool.Completion

	pendingAccepts []*ioreq.Request
	acceptFds      []int
	acceptErr      error

	pendingReads map[int][]*ioreq.Request
	readQueues   map[int][][]byte
	readErr      error

	writeErr error
	writes   []Write
}

// NewRing returns an empty, open fake ring.
func NewRing() *Ring {
	return &Ring{
		completions:  make(chan ringpool.Completion, 256),
		pendingReads: make(map[int][]*ioreq.Request),
		readQueues:   make(map[int][][]byte),
	}
}

// SetAcceptError makes every future PrepareAccept complete with this error
// (surfaced as a negative Res, mirroring io_uring's -errno convention).
func (r *Ring) SetAcceptError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acceptErr = err
}

// SetReadError makes every future PrepareRead complete with this error.
func (r *Ring) SetReadError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readErr = err
}

// SetWriteError makes every future PrepareWrite complete with this error.
func (r *Ring) SetWriteError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr = err
}

// Writes returns every write recorded so far, in submission order.
func (r *Ring) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Write, len(r.writes))
	copy(out, r.writes)
	return out
}

// QueueAccept arranges for the next PrepareAccept (pending or future) to
// complete with connFd as the accepted connection's descriptor.
func (r *Ring) QueueAccept(connFd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pendingAccepts) > 0 {
		req := r.pendingAccepts[0]
		r.pendingAccepts = r.pendingAccepts[1:]
		r.completions <- ringpool.Completion{Req: req, Res: int32(connFd)}
		return
	}
	r.acceptFds = append(r.acceptFds, connFd)
}

// QueueRead arranges for the next PrepareRead on fd (pending or future) to
// deliver data. A read shorter than the waiting request's chunk capacity
// completes with a short read, exactly as a real readv would; data longer
// than the chunk vector's capacity is split across multiple completions.
func (r *Ring) QueueRead(fd int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reqs := r.pendingReads[fd]; len(reqs) > 0 {
		req := reqs[0]
		r.pendingReads[fd] = reqs[1:]
		n, leftover := writeIntoChunks(req, data)
		r.completeLocked(req, int32(n))
		if len(leftover) > 0 {
			r.readQueues[fd] = append([][]byte{leftover}, r.readQueues[fd]...)
		}
		return
	}
	r.readQueues[fd] = append(r.readQueues[fd], data)
}

func (r *Ring) completeLocked(req *ioreq.Request, res int32) {
	r.completions <- ringpool.Completion{Req: req, Res: res}
}

func writeIntoChunks(req *ioreq.Request, data []byte) (n int, leftover []byte) {
	for i := range req.Chunks {
		b := req.Chunks[i].Data
		if len(data) == 0 {
			break
		}
		take := len(data)
		if take > len(b) {
			take = len(b)
		}
		copy(b[:take], data[:take])
		data = data[take:]
		n += take
	}
	return n, data
}

func (r *Ring) PrepareAccept(listenFd int, req *ioreq.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRingClosed
	}
	req.Kind = ioreq.KindAccept
	req.Fd = listenFd
	if r.acceptErr != nil {
		r.completeLocked(req, -1)
		return nil
	}
	if len(r.acceptFds) > 0 {
		fd := r.acceptFds[0]
		r.acceptFds = r.acceptFds[1:]
		r.completeLocked(req, int32(fd))
		return nil
	}
	r.pendingAccepts = append(r.pendingAccepts, req)
	return nil
}

func (r *Ring) PrepareRead(fd int, req *ioreq.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRingClosed
	}
	req.Kind = ioreq.KindRead
	req.Fd = fd
	if r.readErr != nil {
		r.completeLocked(req, -1)
		return nil
	}
	if queue := r.readQueues[fd]; len(queue) > 0 {
		data := queue[0]
		r.readQueues[fd] = queue[1:]
		n, leftover := writeIntoChunks(req, data)
		r.completeLocked(req, int32(n))
		if len(leftover) > 0 {
			r.readQueues[fd] = append([][]byte{leftover}, r.readQueues[fd]...)
		}
		return nil
	}
	r.pendingReads[fd] = append(r.pendingReads[fd], req)
	return nil
}

func (r *Ring) PrepareWrite(fd int, req *ioreq.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRingClosed
	}
	req.Kind = ioreq.KindWrite
	req.Fd = fd
	if r.writeErr != nil {
		r.completeLocked(req, -1)
		return nil
	}
	var body []byte
	for _, c := range req.Chunks {
		body = append(body, c.Bytes()...)
	}
	r.writes = append(r.writes, Write{Fd: fd, Data: body})
	r.completeLocked(req, int32(len(body)))
	return nil
}

func (r *Ring) PrepareWake(req *ioreq.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRingClosed
	}
	req.Kind = ioreq.KindWake
	r.completeLocked(req, 0)
	return nil
}

func (r *Ring) WaitCompletion() (ringpool.Completion, error) {
	c, ok := <-r.completions
	if !ok {
		return ringpool.Completion{}, ErrRingClosed
	}
	return c, nil
}

func (r *Ring) EventFD() int { return -1 }

func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.completions)
	return nil
}

var _ ringpool.Ring = (*Ring)(nil)
