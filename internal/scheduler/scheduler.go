// File: internal/scheduler/scheduler.go
// Package scheduler implements the multi-queue task scheduler (spec.md
// §4.4): a pool of worker goroutines pulling round-robin from a set of
// named, optionally capped FIFO sub-queues. A cap of 1 serializes all
// tasks submitted under one queue id, e.g. all work for one connection.
// Queue 0 (DefaultQueueID) is created by New and can never be removed,
// per spec.md §4.4; every other queue id is caller-managed, including the
// per-connection conn-<fd> ids the engine creates and tears down.
//
// Grounded in the original C threadpool.c (a single FIFO guarded by one
// mutex plus a queue_cond/empty_cond pair) generalized to many named
// FIFOs, and in the teacher's internal/concurrency/executor.go for the
// worker-goroutine/github.com/eapache/queue shape — the teacher's queue
// access is unsynchronized, which this package fixes by guarding every
// sub-queue with the scheduler's own mutex.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package scheduler

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/saurion-go/api"
)

// DefaultQueueID names the always-present, unbounded sub-queue every
// Scheduler starts with (spec.md §4.4: "queue 0 is the default and always
// present"). Connection-scoped queues are keyed separately (conn-<fd>);
// DefaultQueueID exists for callers with no per-connection affinity that
// still want scheduler-mediated dispatch.
const DefaultQueueID = "0"

var (
	// ErrQueueExists is returned by NewQueue for an id already registered.
	ErrQueueExists = api.NewError(api.ErrCodeAlreadyExists, "scheduler: queue already exists")
	// ErrQueueNotFound is returned by Add/RemoveQueue for an unknown id.
	ErrQueueNotFound = api.NewError(api.ErrCodeNotFound, "scheduler: queue not found")
	// ErrQueueBusy is returned by RemoveQueue when the queue still has
	// pending or in-flight work.
	ErrQueueBusy = api.NewError(api.ErrCodeResourceExhausted, "scheduler: queue busy")
	// ErrDefaultQueue is returned by RemoveQueue for DefaultQueueID, which
	// lives for the lifetime of the Scheduler (spec.md §4.4).
	ErrDefaultQueue = api.NewError(api.ErrCodeNotSupported, "scheduler: default queue cannot be removed")
	// ErrStopped is returned by Add once Stop has been called.
	ErrStopped = api.NewError(api.ErrCodeNotSupported, "scheduler: stopped")
)

// task is one unit of scheduled work.
type task func()

// subQueue is one named FIFO with an optional in-flight admission cap.
// cap == 0 means unbounded concurrent in-flight tasks for this id.
type subQueue struct {
	id       string
	tasks    *queue.Queue
	cap      int
	inFlight int
}

func (q *subQueue) ready() bool {
	return q.tasks.Length() > 0 && (q.cap == 0 || q.inFlight < q.cap)
}

func (q *subQueue) idle() bool {
	return q.tasks.Length() == 0 && q.inFlight == 0
}

// Scheduler dispatches tasks from named sub-queues across a fixed pool of
// worker goroutines, giving every non-empty, non-saturated sub-queue an
// equal turn (round-robin fairness across queue ids, not across tasks).
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[string]*subQueue
	order   []string
	pos     int
	stopped bool
	wg      sync.WaitGroup
}

// New starts a Scheduler with the given number of worker goroutines.
func New(numWorkers int) *Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	s := &Scheduler{queues: make(map[string]*subQueue)}
	s.cond = sync.NewCond(&s.mu)
	s.queues[DefaultQueueID] = &subQueue{id: DefaultQueueID, tasks: queue.New()}
	s.order = append(s.order, DefaultQueueID)
	for i := 0; i < numWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// NewQueue registers a named sub-queue with the given in-flight cap (0 for
// unbounded). Returns ErrQueueExists if id is already registered.
func (s *Scheduler) NewQueue(id string, capInFlight int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[id]; ok {
		return ErrQueueExists
	}
	s.queues[id] = &subQueue{id: id, tasks: queue.New(), cap: capInFlight}
	s.order = append(s.order, id)
	return nil
}

// RemoveQueue unregisters a sub-queue. It fails with ErrQueueBusy if the
// queue still has pending or in-flight tasks — callers must drain a queue
// (WaitQueueEmpty for that queue alone, or WaitEmpty for the whole
// scheduler) before removing it, or simply let remaining tasks finish against a forgotten id
// that still routes correctly until explicitly removed.
func (s *Scheduler) RemoveQueue(id string) error {
	if id == DefaultQueueID {
		return ErrDefaultQueue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[id]
	if !ok {
		return ErrQueueNotFound
	}
	if !q.idle() {
		return ErrQueueBusy
	}
	delete(s.queues, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Add enqueues fn under the named sub-queue. arg is passed through a
// closure by the caller rather than a separate parameter, which is more
// idiomatic than the original's void* argument pairing.
func (s *Scheduler) Add(id string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	q, ok := s.queues[id]
	if !ok {
		return ErrQueueNotFound
	}
	q.tasks.Add(task(fn))
	s.cond.Signal()
	return nil
}

// WaitQueueEmpty blocks until the named sub-queue alone has no pending or
// in-flight work, without waiting on any other queue — used to safely
// RemoveQueue an id that is about to be reused (e.g. a closed connection's
// fd handed back out by the OS) without a global WaitEmpty stall.
func (s *Scheduler) WaitQueueEmpty(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[id]
	if !ok {
		return ErrQueueNotFound
	}
	for !q.idle() {
		s.cond.Wait()
	}
	return nil
}

// WaitEmpty blocks until every sub-queue has no pending or in-flight work.
func (s *Scheduler) WaitEmpty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.allIdleLocked() {
		s.cond.Wait()
	}
}

// Stop waits for all queues to drain, then stops every worker goroutine
// and blocks until they have exited.
func (s *Scheduler) Stop() {
	s.WaitEmpty()
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) allIdleLocked() bool {
	for _, q := range s.queues {
		if !q.idle() {
			return false
		}
	}
	return true
}

// pickLocked returns the next ready sub-queue in round-robin order
// starting from s.pos, or nil if none is ready.
func (s *Scheduler) pickLocked() *subQueue {
	n := len(s.order)
	for i := 0; i < n; i++ {
		idx := (s.pos + i) % n
		q := s.queues[s.order[idx]]
		if q != nil && q.ready() {
			s.pos = (idx + 1) % n
			return q
		}
	}
	return nil
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for {
			if s.stopped && s.allIdleLocked() {
				s.mu.Unlock()
				return
			}
			if q := s.pickLocked(); q != nil {
				fn, _ := q.tasks.Remove().(task)
				q.inFlight++
				s.mu.Unlock()
				fn()
				s.mu.Lock()
				q.inFlight--
				if q.idle() || s.allIdleLocked() {
					s.cond.Broadcast()
				}
				s.mu.Unlock()
				break
			}
			s.cond.Wait()
		}
	}
}
