//go:build !linux

// File: engine/affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

// pinCurrentThread is a no-op off Linux.
func pinCurrentThread(cpuID int) error { return nil }

// unpinCurrentThread is a no-op off Linux.
func unpinCurrentThread() error { return nil }
