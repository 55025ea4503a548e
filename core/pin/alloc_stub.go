// File: core/pin/alloc_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fallback allocation for platforms without mlock support: plain Go
// heap memory, not pinned. Buffer.Pinned reports false so callers can
// detect the degraded mode.

//go:build !(linux || darwin || freebsd)

package pin

func alloc(size int) (raw, view []byte, pinned bool, err error) {
	view = make([]byte, size)
	return nil, view, false, nil
}

func release(b *Buffer) error {
	b.raw, b.data = nil, nil
	return nil
}
