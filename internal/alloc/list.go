// File: internal/alloc/list.go
// Package alloc implements the process-wide allocation-tracking list: the
// single authoritative owner of every outstanding Request's buffers, so
// that every failure, shutdown, or cancellation path frees memory exactly
// once (spec §4.3, invariants I1/I4).
//
// Grounded in the original C `linked_list.c`/`linked_list.h` (a
// mutex-guarded singly linked list of Nodes, each owning a pointer and its
// children) and in the teacher's single-mutex pool bookkeeping style
// (pool/base_bufferpool.go).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package alloc

import (
	"sync"

	"github.com/momentics/saurion-go/internal/ioreq"
)

// node is one entry in the list: a Request plus an arbitrary opaque value
// for caller bookkeeping (spec §4.3 "an arbitrary additional opaque
// pointer for caller use").
type node struct {
	req   *ioreq.Request
	extra any
	next  *node
}

// List is a singly linked, mutex-guarded list of outstanding Requests.
// Its only job is making sure nothing leaks and nothing double-frees.
type List struct {
	mu   sync.Mutex
	head *node
	size int
}

// New returns an empty allocation list.
func New() *List {
	return &List{}
}

// Insert tracks req (and its extra opaque value) as outstanding. It never
// fails in this implementation — Go allocation failure is not a recoverable
// condition the way C malloc failure is — but it keeps the bool result
// spec §4.3 specifies so callers can treat it uniformly with the original
// API shape.
func (l *List) Insert(req *ioreq.Request, extra any) bool {
	n := &node{req: req, extra: extra}
	l.mu.Lock()
	n.next = l.head
	l.head = n
	l.size++
	l.mu.Unlock()
	return true
}

// Remove deletes the node tracking req and releases every chunk buffer it
// owns (I4). Returns false if req was not tracked (already removed, or
// never inserted) — callers must treat that as a programming error, not a
// retryable condition.
func (l *List) Remove(req *ioreq.Request) bool {
	l.mu.Lock()
	var prev *node
	cur := l.head
	for cur != nil {
		if cur.req == req {
			if prev == nil {
				l.head = cur.next
			} else {
				prev.next = cur.next
			}
			l.size--
			break
		}
		prev = cur
		cur = cur.next
	}
	l.mu.Unlock()
	if cur == nil {
		return false
	}
	cur.req.Release()
	return true
}

// Len reports the number of outstanding requests. Surfaced by
// Engine.Stats and the engine.outstanding_requests debug probe.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// FreeAll releases every tracked request's buffers and empties the list.
// Called once during Engine shutdown after all workers have joined, so no
// concurrent Insert/Remove can race with it.
func (l *List) FreeAll() {
	l.mu.Lock()
	head := l.head
	l.head = nil
	l.size = 0
	l.mu.Unlock()

	for cur := head; cur != nil; {
		next := cur.next
		cur.req.Release()
		cur = next
	}
}
