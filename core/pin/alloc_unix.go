// File: core/pin/alloc_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unix allocation path: anonymous page-rounded mmap plus mlock, so the
// region is non-pageable and stable for direct OS I/O. Both the mapping
// and the lock must succeed; a half-pinned buffer is never handed out.

//go:build linux || darwin || freebsd

package pin

import (
	"os"

	"golang.org/x/sys/unix"
)

// alloc maps and locks size bytes. Returns the full mapping (for
// munmap), the size-bytes view handed to callers, and pinned=true.
func alloc(size int) (raw, view []byte, pinned bool, err error) {
	pageSize := os.Getpagesize()
	length := ((size + pageSize - 1) / pageSize) * pageSize

	raw, err = unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, false, err
	}
	if err = unix.Mlock(raw); err != nil {
		_ = unix.Munmap(raw)
		return nil, nil, false, err
	}
	return raw, raw[:size], true, nil
}

// release unlocks and unmaps a buffer produced by alloc.
func release(b *Buffer) error {
	if b.raw == nil {
		b.data = nil
		return nil
	}
	raw := b.raw
	b.raw, b.data = nil, nil
	if err := unix.Munlock(raw); err != nil {
		_ = unix.Munmap(raw)
		return err
	}
	return unix.Munmap(raw)
}
