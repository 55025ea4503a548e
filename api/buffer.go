// File: api/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Buffer contracts. A buffer is an opaque, contiguous, byte-addressable
// region with a known length and element size. Locked buffers are pinned
// (non-pageable) regions safe to hand to the OS asynchronous I/O path;
// they are created and released through a handle's buffer registry and
// must not be freed while any request referencing them is in flight.

package api

// Buffer describes a contiguous memory region handed to the engine.
type Buffer interface {
	// Bytes returns the backing region. The engine reads or fills it in
	// place; it never reslices or retains it past request completion.
	Bytes() []byte

	// Len returns the region length in bytes.
	Len() int

	// ElemSize returns the element size in bytes (1 for raw byte blobs).
	// Len is always a multiple of ElemSize.
	ElemSize() int
}

// LockedBuffer is a Buffer whose memory is registered with the OS as
// non-pageable. Pinned reports whether locking actually succeeded on
// this platform; on platforms without mlock the registry falls back to
// plain heap memory and Pinned returns false.
type LockedBuffer interface {
	Buffer
	Pinned() bool
}

// BytesBuffer adapts a plain byte slice to the Buffer contract.
type BytesBuffer struct {
	B    []byte
	Elem int
}

// Wrap wraps a byte slice as a Buffer with element size 1.
func Wrap(b []byte) *BytesBuffer {
	return &BytesBuffer{B: b, Elem: 1}
}

// WrapElems wraps a byte slice holding elements of elemSize bytes each.
func WrapElems(b []byte, elemSize int) *BytesBuffer {
	if elemSize <= 0 {
		elemSize = 1
	}
	return &BytesBuffer{B: b, Elem: elemSize}
}

func (b *BytesBuffer) Bytes() []byte { return b.B }
func (b *BytesBuffer) Len() int      { return len(b.B) }
func (b *BytesBuffer) ElemSize() int {
	if b.Elem <= 0 {
		return 1
	}
	return b.Elem
}
