//go:build !linux

// File: engine/listen_helper_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

import "fmt"

// DefaultAcceptBacklog mirrors the Linux build's constant so callers can
// reference it unconditionally.
const DefaultAcceptBacklog = 10

// ListenTCP is unavailable off Linux: the engine only ever runs against
// an io_uring ring, which ringpool itself already restricts to Linux.
func ListenTCP(addr string, backlog int) (fd int, closeFn func() error, err error) {
	return -1, nil, fmt.Errorf("engine: ListenTCP requires linux")
}
