// File: engine/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/saurion-go/control"
)

// Config holds every tunable of one Engine instance. Config parsing from a
// file is explicitly out of scope (spec.md Non-goals); callers build this
// struct programmatically.
type Config struct {
	// ListenFdValue is the already-bound, already-listening socket
	// descriptor accept completions are posted against (see ListenTCP).
	ListenFdValue int
	// NumWorkers is the worker count, master included. Clamped to
	// [2, runtime.NumCPU()] — a single worker has no slave role defined
	// (spec.md §4.1, SPEC_FULL §4 "One-worker mode"). New runs one worker
	// per ring it is given regardless of this value; NumWorkers itself
	// only sets the SchedulerWorkers default.
	NumWorkers int
	// RingEntries is the SQ/CQ depth to build rings with. New receives
	// already-built rings and does not read it; it takes effect only where
	// the caller passes it to ringpool.NewLinuxRing.
	RingEntries uint32
	// ChunkSize is the byte size of each buffer posted for a read.
	ChunkSize int
	// NUMANode is the preferred NUMA node for buffer allocation, -1 for
	// no preference.
	NUMANode int
	// RetrySleep is the floor for the submission-slot retry backoff
	// (spec.md §4.5); the ceiling, and the total time a submission keeps
	// retrying, is fixed inside ringpool at 50ms. Like RingEntries, New
	// does not read it; it takes effect only where the caller passes it to
	// ringpool.NewLinuxRing as retryFloor.
	RetrySleep time.Duration
	// MaxConsecutiveResyncFailures closes a connection once its
	// reassembler has resynced this many times in a row without
	// delivering a clean message in between. 0 means unlimited, matching
	// the original implementation's default (SPEC_FULL §4).
	MaxConsecutiveResyncFailures int
	// SchedulerWorkers sizes the message-dispatch worker pool. Defaults
	// to NumWorkers when 0.
	SchedulerWorkers int
	// PinWorkers, when true, locks each ring-owning goroutine's OS thread
	// to CPU core (ring index mod runtime.NumCPU()) for the lifetime of
	// the loop, trading flexibility for cache locality the way a
	// dedicated io_uring worker thread normally would.
	PinWorkers bool

	// Logger receives structured lifecycle and error events. A nil
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// ConfigStore, if set, backs the engine's GetConfig/SetConfig/OnReload
	// (adapted from control.ConfigStore). The engine does not copy this
	// Config's own fields into it.
	ConfigStore *control.ConfigStore
	// DebugProbes, if set, gets the engine's internal state probes
	// registered on it (adapted from control.DebugProbes).
	DebugProbes *control.DebugProbes
}

// DefaultConfig returns defaults sized to the local machine.
func DefaultConfig() Config {
	return Config{
		NumWorkers:       runtime.NumCPU(),
		RingEntries:      256,
		ChunkSize:        8192,
		NUMANode:         -1,
		RetrySleep:       10 * time.Microsecond,
		SchedulerWorkers: 0,
	}
}

// ListenFd returns the configured listening socket descriptor.
func (c *Config) ListenFd() int { return c.ListenFdValue }

func (c *Config) normalize() {
	if c.NumWorkers < 2 {
		c.NumWorkers = 2
	}
	if max := runtime.NumCPU(); c.NumWorkers > max {
		c.NumWorkers = max
	}
	if c.RingEntries == 0 {
		c.RingEntries = 256
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 8192
	}
	if c.RetrySleep <= 0 {
		c.RetrySleep = 10 * time.Microsecond
	}
	if c.SchedulerWorkers <= 0 {
		c.SchedulerWorkers = c.NumWorkers
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Callbacks are the engine's event surface (spec.md §6).
type Callbacks struct {
	OnConnected func(fd int)
	OnMessage   func(fd int, body []byte)
	OnWrote     func(fd int, n int)
	OnClosed    func(fd int, err error)
	OnError     func(fd int, err error)
}
