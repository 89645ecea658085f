// File: internal/ioreq/request.go
// Package ioreq defines the Request and Cursor types shared by the ring
// pool, the allocation list, and the reassembler — the three subsystems
// that all need a stable view of one outstanding async I/O operation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ioreq

import "github.com/momentics/saurion-go/api"

// Kind identifies the type of async operation a Request represents.
type Kind int

const (
	KindAccept Kind = iota
	KindRead
	KindWrite
	KindWake
)

func (k Kind) String() string {
	switch k {
	case KindAccept:
		return "accept"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindWake:
		return "wake"
	default:
		return "unknown"
	}
}

// Cursor carries the reassembler's position state across completions of
// the same logical read stream. See spec §3 "Cursor fields".
type Cursor struct {
	// Prev holds an in-progress reassembly body buffer, or nil.
	Prev []byte
	// PrevSize is the total expected body length of Prev.
	PrevSize int
	// PrevRemain is the number of bytes still needed to complete Prev.
	PrevRemain int
	// NextChunk/NextOffset are always (0, 0): reassembler.Feed tracks its
	// position inside Chunks with its own walker and never reads or sets
	// these, because a Request's chunk vector is always fully drained or
	// handed off via Prev/HeaderCarry. Kept as persistent fields for
	// structural fidelity with spec §3.
	NextChunk  int
	NextOffset int

	// FooterPending marks a body that is fully copied into Prev but whose
	// trailing 0x00 sentinel has not yet been observed — the edge case of
	// a body exactly filling the remaining chunk capacity, with the
	// footer landing on the first byte of the next read (spec §4.2 edge
	// cases). This technically extends invariant I2 (Prev == nil iff
	// PrevSize == 0 and PrevRemain == 0): here PrevRemain is 0 while Prev
	// is still non-nil, pending the footer byte alone.
	FooterPending bool

	// HeaderCarry holds 1..HeaderSize-1 header bytes read in the current
	// completion that do not yet form a complete 8-byte length prefix;
	// the remaining bytes arrive in the next completion.
	HeaderCarry []byte

	// Resyncing marks a stream mid corruption-recovery: the reassembler
	// is scanning for the next 0x00 byte and has not yet found it within
	// the data observed so far.
	Resyncing bool
}

// Clean reports whether the cursor is in the fresh-frame state (I2).
func (c Cursor) Clean() bool {
	return c.Prev == nil && c.PrevSize == 0 && c.PrevRemain == 0
}

// Request owns one submitted async I/O operation: its kind, target
// descriptor, chunk vector, and reassembly cursor. It is the unit the
// Allocation List tracks and the unit the Ring Pool submits and completes.
type Request struct {
	Kind   Kind
	Fd     int
	Chunks []api.Buffer
	Cursor Cursor

	// Extra carries caller-defined bookkeeping (e.g. the scheduler queue
	// id for this connection) without the Request needing to know about
	// the Engine that created it — see spec §9 "Cyclic ownership".
	Extra any
}

// TotalLen returns the sum of the populated lengths across all chunks.
func (r *Request) TotalLen() int {
	n := 0
	for _, c := range r.Chunks {
		n += len(c.Bytes())
	}
	return n
}

// TruncateTo shrinks Chunks in place so their total length is exactly n,
// the way a completed readv/recvmsg's reported byte count can be smaller
// than the full chunk vector handed to the kernel. Chunks beyond n become
// zero-length; none are released, since the caller still owns the
// Request. Must be called before reassembler.Feed so it never walks
// unread bytes left over from a chunk's prior use.
func (r *Request) TruncateTo(n int) {
	remain := n
	for i, c := range r.Chunks {
		full := c.Data
		switch {
		case remain <= 0:
			r.Chunks[i].Data = full[:0]
		case remain >= len(full):
			remain -= len(full)
		default:
			r.Chunks[i].Data = full[:remain]
			remain = 0
		}
	}
}

// Release returns every chunk buffer this Request owns to its pool. It is
// the single place chunk memory is freed (spec invariant I4); callers must
// not call it more than once per Request.
func (r *Request) Release() {
	for i, c := range r.Chunks {
		c.Release()
		r.Chunks[i] = api.Buffer{}
	}
	r.Chunks = nil
	if r.Cursor.Prev != nil {
		r.Cursor.Prev = nil
	}
}
