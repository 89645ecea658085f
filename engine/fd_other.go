//go:build !linux

// File: engine/fd_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

// closeFD is a no-op off Linux, where ringpool never produces real
// descriptors to close.
func closeFD(fd int) {}
