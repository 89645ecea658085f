//go:build linux

// File: engine/fd_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

import "golang.org/x/sys/unix"

// closeFD closes a raw connection descriptor, swallowing EBADF: closeConn
// can race an already-failed read/write completion that the kernel has
// itself torn down.
func closeFD(fd int) {
	_ = unix.Close(fd)
}
