// File: engine/engine.go
// Package engine assembles the ring pool, allocation list, reassembler,
// and scheduler into the connection-handling runtime described by spec.md
// §4: a master worker accepting connections on ring 0, N-1 slave workers
// each owning an independent ring for reads, and a round-robin write path
// that never pins a write to a connection's read-owning ring.
//
// Grounded in saurion_worker_master_loop_it/saurion_worker_slave_loop_it
// and saurion_send in _examples/original_source/src/low_saurion.c, and in
// the teacher's server/server.go for the Config/Start/Stop shape and
// errgroup-supervised worker goroutines.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/saurion-go/api"
	"github.com/momentics/saurion-go/internal/alloc"
	"github.com/momentics/saurion-go/internal/bufpool"
	"github.com/momentics/saurion-go/internal/ioreq"
	"github.com/momentics/saurion-go/internal/reassembler"
	"github.com/momentics/saurion-go/internal/ringpool"
	"github.com/momentics/saurion-go/internal/scheduler"
	"github.com/momentics/saurion-go/internal/wire"
)

// connState is the engine's bookkeeping for one accepted connection.
type connState struct {
	fd             int
	ring           ringpool.Ring
	cursor         ioreq.Cursor
	queueID        string
	resyncFailures int
}

// Engine runs the accept/read/write loops for one listening socket across
// a pool of io_uring rings.
type Engine struct {
	cfg Config
	cb  Callbacks

	rings     *ringpool.Pool
	sched     *scheduler.Scheduler
	allocList *alloc.List
	bufMgr    *bufpool.Manager

	status *Status
	eg     *errgroup.Group
	egCtx  context.Context
	stopCh chan struct{}
	closed bool

	connMu sync.Mutex
	conns  map[int]*connState

	affinityMu sync.Mutex
	affinity   map[int]*ThreadAffinity

	// closeFDFunc closes one connection descriptor. Defaults to the
	// platform closeFD; tests using fake.Ring (whose fds are arbitrary
	// integers, not real descriptors) override it to a no-op.
	closeFDFunc func(int)
}

// New builds an Engine around an already-constructed set of rings. rings
// must have at least 2 entries: rings[0] is the master, the rest are
// slaves. Callers typically obtain these from ringpool.NewLinuxRing, or
// fake.NewRing in tests.
func New(cfg Config, cb Callbacks, rings []ringpool.Ring) (*Engine, error) {
	cfg.normalize()
	if len(rings) < 2 {
		return nil, fmt.Errorf("engine: need at least 2 rings, got %d", len(rings))
	}
	e := &Engine{
		cfg:       cfg,
		cb:        cb,
		rings:     ringpool.NewPool(rings),
		sched:     scheduler.New(cfg.SchedulerWorkers),
		allocList: alloc.New(),
		bufMgr:    bufpool.NewManager(),
		status:    NewStatus(),
		stopCh:    make(chan struct{}),
		conns:     make(map[int]*connState),
		affinity:  make(map[int]*ThreadAffinity),
	}
	e.closeFDFunc = closeFD
	if cfg.DebugProbes != nil {
		e.registerProbes(cfg.DebugProbes)
	}
	return e, nil
}

func (e *Engine) registerProbes(dp interface {
	RegisterProbe(name string, fn func() any)
}) {
	dp.RegisterProbe("engine.connections", func() any {
		e.connMu.Lock()
		defer e.connMu.Unlock()
		return len(e.conns)
	})
	dp.RegisterProbe("engine.outstanding_requests", func() any {
		return e.allocList.Len()
	})
	dp.RegisterProbe("engine.active_workers", func() any {
		return e.status.Count()
	})
	dp.RegisterProbe("engine.worker_affinity", func() any {
		e.affinityMu.Lock()
		defer e.affinityMu.Unlock()
		out := make(map[int]api.AffinityDescriptor, len(e.affinity))
		for ring, a := range e.affinity {
			out[ring] = a.ImmutableDescriptor()
		}
		return out
	})
}

// Start launches one goroutine per ring — the master on ring 0, slaves on
// the rest — and blocks until all of them report active via Status, the
// way server.Run waits for its listener goroutines before returning.
func (e *Engine) Start(ctx context.Context) error {
	e.eg, e.egCtx = errgroup.WithContext(ctx)
	for i := 0; i < e.rings.Len(); i++ {
		i := i
		e.eg.Go(func() error {
			if e.cfg.PinWorkers {
				a := &ThreadAffinity{}
				if err := a.Pin(i%runtime.NumCPU(), e.cfg.NUMANode); err != nil {
					e.cfg.Logger.Warn("cpu pin failed", zap.Int("ring", i), zap.Error(err))
				} else {
					defer a.Unpin()
				}
				e.affinityMu.Lock()
				e.affinity[i] = a
				e.affinityMu.Unlock()
			}
			e.status.Enter()
			defer e.status.Exit()
			if i == 0 {
				return e.masterLoop(e.rings.Master())
			}
			return e.slaveLoop(e.rings.Ring(i))
		})
	}
	e.status.WaitAtLeast(e.rings.Len())
	if err := e.postAccept(e.rings.Master()); err != nil {
		e.cfg.Logger.Error("initial accept failed", zap.Error(err))
		return err
	}
	return nil
}

// Wait blocks until every worker goroutine returns, surfacing the first
// error any of them hit (mirroring errgroup.Group.Wait).
func (e *Engine) Wait() error {
	if e.eg == nil {
		return nil
	}
	return e.eg.Wait()
}

// Stop signals every worker loop to exit, unblocks any ring currently
// parked in WaitCompletion via a wake request, waits for all loops to
// return, then drains the scheduler and frees outstanding buffers (P2: no
// leaks survive a clean shutdown).
func (e *Engine) Stop() error {
	e.connMu.Lock()
	if e.closed {
		e.connMu.Unlock()
		return nil
	}
	e.closed = true
	e.connMu.Unlock()

	close(e.stopCh)
	for i := 0; i < e.rings.Len(); i++ {
		wake := &ioreq.Request{}
		e.allocList.Insert(wake, nil)
		if err := e.rings.Ring(i).PrepareWake(wake); err != nil {
			e.cfg.Logger.Warn("wake failed during stop", zap.Int("ring", i), zap.Error(err))
		}
	}
	e.status.WaitZero()
	err := e.Wait()
	e.sched.Stop()
	e.allocList.FreeAll()
	if cerr := e.rings.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (e *Engine) stopping() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// masterLoop owns ring 0: it only ever sees accept and wake completions.
func (e *Engine) masterLoop(ring ringpool.Ring) error {
	for {
		c, err := ring.WaitCompletion()
		if err != nil {
			if e.stopping() {
				return nil
			}
			return fmt.Errorf("engine: master ring wait: %w", err)
		}
		switch c.Req.Kind {
		case ioreq.KindAccept:
			e.handleAccept(ring, c)
		case ioreq.KindWake:
			e.allocList.Remove(c.Req)
			if e.stopping() {
				return nil
			}
		default:
			e.cfg.Logger.Warn("unexpected completion kind on master ring", zap.String("kind", c.Req.Kind.String()))
		}
	}
}

func (e *Engine) postAccept(ring ringpool.Ring) error {
	req := &ioreq.Request{}
	e.allocList.Insert(req, nil)
	if err := ring.PrepareAccept(e.cfg.ListenFd(), req); err != nil {
		e.allocList.Remove(req)
		return err
	}
	return nil
}

func (e *Engine) handleAccept(ring ringpool.Ring, c ringpool.Completion) {
	defer e.allocList.Remove(c.Req)
	if c.Res < 0 {
		e.cfg.Logger.Warn("accept failed", zap.Int32("res", c.Res))
		if e.cb.OnError != nil {
			e.cb.OnError(-1, fmt.Errorf("accept: errno %d", -c.Res))
		}
	} else {
		e.registerConn(int(c.Res))
	}
	if !e.stopping() {
		if err := e.postAccept(ring); err != nil {
			e.cfg.Logger.Error("re-arming accept failed", zap.Error(err))
		}
	}
}

func (e *Engine) registerConn(fd int) {
	ring := e.rings.NextSlave()
	qid := fmt.Sprintf("conn-%d", fd)
	if err := e.sched.NewQueue(qid, 1); err != nil {
		e.cfg.Logger.Error("duplicate connection queue", zap.Int("fd", fd), zap.Error(err))
	}
	cs := &connState{fd: fd, ring: ring, queueID: qid}

	e.connMu.Lock()
	e.conns[fd] = cs
	e.connMu.Unlock()

	if e.cb.OnConnected != nil {
		e.cb.OnConnected(fd)
	}
	e.postRead(cs)
}

func (e *Engine) postRead(cs *connState) {
	pool := e.bufMgr.GetPool(e.cfg.ChunkSize, e.cfg.NUMANode)
	buf := pool.Get(e.cfg.ChunkSize, e.cfg.NUMANode)

	r := &ioreq.Request{}
	r.Chunks = append(r.Chunks, buf)
	r.Cursor = cs.cursor
	r.Extra = cs
	e.allocList.Insert(r, cs)
	if err := cs.ring.PrepareRead(cs.fd, r); err != nil {
		e.allocList.Remove(r)
		e.closeConn(cs, err)
	}
}

// slaveLoop owns one non-master ring: it handles read and write
// completions for whichever connections were striped onto it.
func (e *Engine) slaveLoop(ring ringpool.Ring) error {
	for {
		c, err := ring.WaitCompletion()
		if err != nil {
			if e.stopping() {
				return nil
			}
			return fmt.Errorf("engine: slave ring wait: %w", err)
		}
		switch c.Req.Kind {
		case ioreq.KindRead:
			e.handleRead(ring, c)
		case ioreq.KindWrite:
			e.handleWrite(c)
		case ioreq.KindWake:
			e.allocList.Remove(c.Req)
			if e.stopping() {
				return nil
			}
		default:
			e.cfg.Logger.Warn("unexpected completion kind on slave ring", zap.String("kind", c.Req.Kind.String()))
		}
	}
}

func (e *Engine) handleRead(ring ringpool.Ring, c ringpool.Completion) {
	req := c.Req
	cs, _ := req.Extra.(*connState)
	if cs == nil {
		e.allocList.Remove(req)
		return
	}
	if c.Res <= 0 {
		e.allocList.Remove(req)
		var err error
		if c.Res < 0 {
			err = fmt.Errorf("read: errno %d", -c.Res)
		}
		e.closeConn(cs, err)
		return
	}

	req.TruncateTo(int(c.Res))
	result := reassembler.Feed(req)
	cs.cursor = req.Cursor
	e.allocList.Remove(req)

	for _, derr := range result.Errors {
		cs.resyncFailures++
		if e.cb.OnError != nil {
			e.cb.OnError(cs.fd, derr)
		}
		if e.cfg.MaxConsecutiveResyncFailures > 0 && cs.resyncFailures >= e.cfg.MaxConsecutiveResyncFailures {
			e.closeConn(cs, derr)
			return
		}
	}
	for _, d := range result.Deliveries {
		cs.resyncFailures = 0
		body := d.Body
		fd := cs.fd
		if e.cb.OnMessage != nil {
			if err := e.sched.Add(cs.queueID, func() { e.cb.OnMessage(fd, body) }); err != nil {
				e.cfg.Logger.Warn("dropping message, queue gone", zap.Int("fd", fd), zap.Error(err))
			}
		}
	}

	if e.connAlive(cs.fd) {
		e.postRead(cs)
	}
}

func (e *Engine) handleWrite(c ringpool.Completion) {
	req := c.Req
	fd := req.Fd
	defer e.allocList.Remove(req)
	if c.Res < 0 {
		if e.cb.OnError != nil {
			e.cb.OnError(fd, fmt.Errorf("write: errno %d", -c.Res))
		}
		return
	}
	if e.cb.OnWrote != nil {
		e.cb.OnWrote(fd, int(c.Res))
	}
}

func (e *Engine) connAlive(fd int) bool {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	_, ok := e.conns[fd]
	return ok
}

// closeConn tears down one connection: it is safe to call more than once
// for the same fd (the second call is a no-op). It is called on a failed
// read submission and on a read completion reporting EOF, an error, or too
// many consecutive resyncs; write failures only reach OnError.
func (e *Engine) closeConn(cs *connState, err error) {
	e.connMu.Lock()
	if _, ok := e.conns[cs.fd]; !ok {
		e.connMu.Unlock()
		return
	}
	delete(e.conns, cs.fd)
	e.connMu.Unlock()

	if e.cb.OnClosed != nil {
		e.cb.OnClosed(cs.fd, err)
	}

	e.closeFDFunc(cs.fd)

	if werr := e.sched.WaitQueueEmpty(cs.queueID); werr == nil {
		if rerr := e.sched.RemoveQueue(cs.queueID); rerr != nil {
			e.cfg.Logger.Warn("remove queue after drain", zap.String("queue", cs.queueID), zap.Error(rerr))
		}
	}
}

// Send frames body and submits it as a write, routed through the
// round-robin slave selector independently of which ring owns this
// connection's reads — matching saurion_send, which never pins a write to
// the accepting ring (spec.md §4.5, SPEC_FULL §4).
func (e *Engine) Send(fd int, body []byte) error {
	if !e.connAlive(fd) {
		return fmt.Errorf("engine: send to unknown or closed fd %d", fd)
	}
	framed := wire.Encode(body)
	pool := e.bufMgr.GetPool(len(framed), e.cfg.NUMANode)
	buf := pool.Get(len(framed), e.cfg.NUMANode)
	copy(buf.Data, framed)
	buf.Data = buf.Data[:len(framed)]

	req := &ioreq.Request{}
	req.Chunks = append(req.Chunks, buf)
	req.Fd = fd
	e.allocList.Insert(req, nil)

	ring := e.rings.NextSlave()
	if err := ring.PrepareWrite(fd, req); err != nil {
		e.allocList.Remove(req)
		return err
	}
	return nil
}

// ConnCount reports the number of currently tracked connections, useful
// for tests and debug probes.
func (e *Engine) ConnCount() int {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	return len(e.conns)
}
