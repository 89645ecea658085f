//go:build !linux

// File: internal/ringpool/ring_other.go
// io_uring is Linux-only; other platforms get a Ring that fails fast so
// callers get a clear error instead of a silent no-op transport.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ringpool

import (
	"errors"
	"time"

	"github.com/momentics/saurion-go/api"
)

// ErrUnsupportedPlatform is returned by NewLinuxRing outside Linux.
var ErrUnsupportedPlatform = errors.New("ringpool: io_uring is only available on linux")

// NewLinuxRing always fails on non-Linux platforms. Embedders targeting
// other platforms should use fake.Ring for tests, or a future
// platform-specific backend — none is in scope here (spec.md Non-goals).
func NewLinuxRing(entries uint32, bufPool api.BufferPool, retryFloor time.Duration) (Ring, error) {
	return nil, ErrUnsupportedPlatform
}
