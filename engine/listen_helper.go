//go:build linux

// File: engine/listen_helper.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// DefaultAcceptBacklog mirrors the original's ACCEPT_QUEUE constant
// (_examples/original_source/include/config.h).
const DefaultAcceptBacklog = 10

// ListenTCP opens a non-blocking IPv4 TCP listening socket bound to addr
// (host:port, host may be empty for all interfaces), grounded in
// saurion_set_socket in _examples/original_source/src/low_saurion.c
// (socket/SO_REUSEADDR/bind/listen). It is a convenience for embedders who
// don't want to build their own listening socket; the Engine core itself
// never calls bind or listen. The returned close func releases the
// descriptor if the caller never hands it to an Engine (or after Engine.Stop
// has already torn down the connection-accepting side).
func ListenTCP(addr string, backlog int) (fd int, closeFn func() error, err error) {
	if backlog <= 0 {
		backlog = DefaultAcceptBacklog
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return -1, nil, fmt.Errorf("engine: invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, nil, fmt.Errorf("engine: invalid port in %q: %w", addr, err)
	}

	s, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(s)
		return -1, nil, err
	}

	sa := &unix.SockaddrInet4{Port: port}
	if host != "" && host != "0.0.0.0" {
		ip := net.ParseIP(host).To4()
		if ip == nil {
			unix.Close(s)
			return -1, nil, fmt.Errorf("engine: invalid IPv4 host %q", host)
		}
		copy(sa.Addr[:], ip)
	}
	if err := unix.Bind(s, sa); err != nil {
		unix.Close(s)
		return -1, nil, err
	}
	if err := unix.Listen(s, backlog); err != nil {
		unix.Close(s)
		return -1, nil, err
	}
	return s, func() error { return unix.Close(s) }, nil
}
