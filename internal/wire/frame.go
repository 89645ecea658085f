// File: internal/wire/frame.go
// Package wire defines the on-wire frame format shared by the reassembler
// and the write path: <header:8 bytes big-endian><body:N bytes><footer:0x00>.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wire

import "encoding/binary"

const (
	// HeaderSize is the width of the big-endian body-length prefix.
	HeaderSize = 8
	// FooterByte terminates every well-formed frame.
	FooterByte byte = 0x00
	// FooterSize is the width of the trailing sentinel.
	FooterSize = 1
)

// Htonll converts a 64-bit host value to big-endian network byte order.
// encoding/binary only special-cases 16/32 bit network helpers on some
// platforms' syscall packages, so the engine carries its own 64-bit form.
func Htonll(v uint64) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return binary.LittleEndian.Uint64(b[:])
}

// Ntohll converts a big-endian network value back to host byte order.
func Ntohll(v uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return binary.BigEndian.Uint64(b[:])
}

// PutHeader writes the big-endian length prefix for a body of size n.
func PutHeader(dst []byte, n uint64) {
	binary.BigEndian.PutUint64(dst, n)
}

// Header reads the big-endian length prefix from the front of src.
func Header(src []byte) uint64 {
	return binary.BigEndian.Uint64(src)
}

// Encode produces the full wire representation of one message body:
// header ++ body ++ footer. Used by the write path (engine.Send).
func Encode(body []byte) []byte {
	out := make([]byte, HeaderSize+len(body)+FooterSize)
	PutHeader(out, uint64(len(body)))
	copy(out[HeaderSize:], body)
	out[len(out)-1] = FooterByte
	return out
}
