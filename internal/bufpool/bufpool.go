// File: internal/bufpool/bufpool.go
// Package bufpool supplies the chunk buffers every Request's chunk vector
// is made of. It is a NUMA-segmented pool of api.Buffer, one sync.Pool per
// (size class, NUMA node) pair, adapted from the teacher's
// pool/base_bufferpool.go and pool/bufferpool.go manager split — rewritten
// against the struct-based api.Buffer contract (api/buffer.go) instead of
// the teacher's older pointer-interface Buffer shape, which the two
// component buffer pools no longer implement consistently.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package bufpool

import (
	"sync"

	"github.com/momentics/saurion-go/api"
)

type classKey struct {
	size int
	numa int
}

// Manager hands out a chunk pool per (chunk size, NUMA node) pair, the way
// pool.BufferPoolManager does per node. The node is a pool key and a label
// on each Buffer; the memory itself is ordinary Go heap with no node
// placement.
type Manager struct {
	mu    sync.RWMutex
	pools map[classKey]*classPool
}

// NewManager creates an empty buffer pool manager.
func NewManager() *Manager {
	return &Manager{pools: make(map[classKey]*classPool)}
}

// GetPool returns (creating if necessary) the pool for chunkSize/numaNode.
func (m *Manager) GetPool(chunkSize, numaNode int) api.BufferPool {
	key := classKey{size: chunkSize, numa: numaNode}
	m.mu.RLock()
	p, ok := m.pools[key]
	m.mu.RUnlock()
	if ok {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[key]; ok {
		return p
	}
	p = newClassPool(chunkSize, numaNode)
	m.pools[key] = p
	return p
}

// classPool is a sync.Pool-backed api.BufferPool for one fixed chunk size
// on one NUMA node.
type classPool struct {
	size  int
	numa  int
	raw   sync.Pool
	alloc int64
	free  int64
	mu    sync.Mutex
}

func newClassPool(size, numa int) *classPool {
	p := &classPool{size: size, numa: numa}
	p.raw.New = func() any {
		return make([]byte, p.size)
	}
	return p
}

// Get returns a chunk of exactly size bytes. A size smaller than the
// pool's class still yields a class-sized backing slice sliced down; a
// size larger than the pooled slice gets a freshly allocated backing slice
// of that size. Put returns the full backing capacity to the pool.
func (p *classPool) Get(size int, numaPreferred int) api.Buffer {
	raw := p.raw.Get().([]byte)
	if cap(raw) < size {
		raw = make([]byte, size)
	}
	p.mu.Lock()
	p.alloc++
	p.mu.Unlock()
	return api.Buffer{
		Data:  raw[:size],
		NUMA:  p.numa,
		Pool:  p,
		Class: p.size,
	}
}

// Put implements api.Releaser.
func (p *classPool) Put(b api.Buffer) {
	p.mu.Lock()
	p.free++
	p.mu.Unlock()
	p.raw.Put(b.Data[:cap(b.Data)])
}

func (p *classPool) Stats() api.BufferPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return api.BufferPoolStats{
		TotalAlloc: p.alloc,
		TotalFree:  p.free,
		InUse:      p.alloc - p.free,
		NUMAStats:  map[int]int64{p.numa: p.alloc - p.free},
	}
}

var _ api.BufferPool = (*classPool)(nil)
